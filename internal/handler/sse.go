package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const sseHeartbeat = 15 * time.Second

func sseHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func writeEvent(w *bufio.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// streamSSE answers with an event stream fed by produce. produce runs on its
// own goroutine and is cancelled once the client stops reading, which is
// noticed at the latest on the next heartbeat. If produce fails, onError
// turns the error into a final event.
func streamSSE[T any](c *fiber.Ctx, produce func(ctx context.Context, emit func(T) error) error, onError func(error) interface{}) {
	sseHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events := make(chan T)
		done := make(chan error, 1)
		go func() {
			done <- produce(ctx, func(v T) error {
				select {
				case events <- v:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case v := <-events:
				if err := writeEvent(w, v); err != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case err := <-done:
				if err != nil && ctx.Err() == nil && onError != nil {
					_ = writeEvent(w, onError(err))
				}
				return
			}
		}
	}))
}
