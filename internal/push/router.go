// Package push connects the stream runtime to the assembler: it routes each
// consumed record to the stream it belongs to, assembles it and hands the
// write operation to the bulk sink, applying the error policy on faults.
package push

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/assembler"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

// DefaultStreamName labels the stream that serves topics without their own
// configuration.
const DefaultStreamName = "default"

// Stream is a named, bound assembler.
type Stream struct {
	Name      string
	Assembler *assembler.Assembler
}

// Router maps topics to streams. It is immutable after NewRouter.
type Router struct {
	streams  map[string]*Stream
	fallback *Stream
}

// NewRouter compiles every configured stream. Any invalid stream fails the
// whole startup.
func NewRouter(cfg *config.Config, codecs extract.Codecs) (*Router, error) {
	r := &Router{streams: make(map[string]*Stream, len(cfg.Streams))}
	for topic, sc := range cfg.Streams {
		s, err := bind(topic, sc, codecs)
		if err != nil {
			return nil, err
		}
		r.streams[topic] = s
	}
	if cfg.DefaultStream != nil {
		s, err := bind(DefaultStreamName, *cfg.DefaultStream, codecs)
		if err != nil {
			return nil, err
		}
		r.fallback = s
	}
	return r, nil
}

func bind(name string, sc config.StreamConfig, codecs extract.Codecs) (*Stream, error) {
	spec, err := action.NewIndexSpec(sc)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", name, err)
	}
	a, err := assembler.New(spec, codecs)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", name, err)
	}
	return &Stream{Name: name, Assembler: a}, nil
}

// Route returns the stream serving topic.
func (r *Router) Route(topic string) (*Stream, error) {
	if s, ok := r.streams[topic]; ok {
		return s, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, apperrors.Newf(apperrors.ErrUnknownStream, apperrors.KindConfig, "topic %q", topic)
}
