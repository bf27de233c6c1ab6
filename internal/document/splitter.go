// Package document turns uploaded PDFs into overlapping text chunks.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/ragscale/api/internal/model"
)

// ErrUnreadable means the file is not a parseable PDF. Retrying won't help.
var ErrUnreadable = errors.New("unreadable document")

type Splitter struct {
	splitter textsplitter.TextSplitter
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// SplitFile parses the PDF at path. meta is merged into every chunk.
func (s *Splitter) SplitFile(ctx context.Context, path string, meta map[string]any) ([]model.ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat staged file: %w", err)
	}
	return s.SplitPDF(ctx, f, info.Size(), meta)
}

func (s *Splitter) SplitPDF(ctx context.Context, r io.ReaderAt, size int64, meta map[string]any) (chunks []model.ChunkRecord, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if p := recover(); p != nil {
			chunks, err = nil, fmt.Errorf("%w: %v", ErrUnreadable, p)
		}
	}()

	docs, err := documentloaders.NewPDF(r, size).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return s.SplitDocuments(docs, meta)
}

// SplitDocuments splits already loaded pages. Blank chunks are dropped and
// every chunk gets a chunk_index in document order.
func (s *Splitter) SplitDocuments(docs []schema.Document, meta map[string]any) ([]model.ChunkRecord, error) {
	split, err := textsplitter.SplitDocuments(s.splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to split document: %w", err)
	}

	out := make([]model.ChunkRecord, 0, len(split))
	for _, d := range split {
		text := strings.TrimSpace(d.PageContent)
		if text == "" {
			continue
		}
		md := make(map[string]any, len(d.Metadata)+len(meta)+1)
		for k, v := range d.Metadata {
			md[k] = v
		}
		for k, v := range meta {
			md[k] = v
		}
		md[model.MetaChunkIndex] = len(out)
		out = append(out, model.ChunkRecord{Text: text, Metadata: md})
	}
	return out, nil
}

// Batches partitions chunks into groups of at most size
func Batches(chunks []model.ChunkRecord, size int) [][]model.ChunkRecord {
	if size <= 0 {
		size = 20
	}
	var out [][]model.ChunkRecord
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[start:end])
	}
	return out
}
