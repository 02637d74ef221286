// Package stream provides small generic channel combinators used to
// feed recorded or replayed fixes through a session.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
)

// Slice emits the elements of a slice on a channel.
func Slice[T any](ctx context.Context, in []T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for _, element := range in {
			select {
			case <-ctx.Done():
				return
			case out <- element:
			}
		}
	}()
	return out
}

// NDJSON decodes newline-delimited JSON elements from a reader, one
// line at a time. Unparseable lines are skipped; a fix log with a
// corrupt line is still mostly a fix log.
func NDJSON[T any](ctx context.Context, in io.Reader) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var element T
			if err := json.Unmarshal(line, &element); err != nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- element:
			}
		}
	}()
	return out
}

// Filter passes through elements satisfying the predicate.
func Filter[T any](ctx context.Context, predicate func(T) bool, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for element := range in {
			if predicate(element) {
				select {
				case <-ctx.Done():
					return
				case out <- element:
				}
			}
		}
	}()
	return out
}

// Sink consumes a channel, applying fn to each element. Blocking.
func Sink[T any](ctx context.Context, fn func(T), in <-chan T) {
	for element := range in {
		select {
		case <-ctx.Done():
			return
		default:
			if fn != nil {
				fn(element)
			}
		}
	}
}
