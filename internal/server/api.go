// Package server exposes the public voice-chat endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/loqalabs/loqa-relay/internal/pipeline"
)

// AudioField is the multipart field carrying the recording.
const AudioField = "audio"

// ErrMissingAudio is returned when the upload has no audio field.
var ErrMissingAudio = fmt.Errorf("multipart field %q is required", AudioField)

// Relay is the pipeline the endpoint delegates to.
type Relay interface {
	Handle(ctx context.Context, upload pipeline.Upload) (pipeline.Payload, error)
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// Server owns the fiber app for the public listener.
type Server struct {
	app    *fiber.App
	relay  Relay
	addr   string
	logger *slog.Logger
}

func New(cfg config.HTTPConfig, relay Relay, logger *slog.Logger) *Server {
	s := &Server{
		relay:  relay,
		addr:   net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		logger: logger.With(slog.String("component", "http")),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "loqa-relay",
		BodyLimit:             cfg.MaxUploadBytes,
		ReadTimeout:           time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e any) {
			s.logger.Error("panic while serving request",
				slog.String("path", c.Path()),
				slog.Any("panic", e))
		},
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
	}))
	s.app.Post("/voice-chat", s.voiceChat)
	return s
}

// App returns the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Listen blocks serving on the configured address.
func (s *Server) Listen() error {
	s.logger.Info("public api listening", slog.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) voiceChat(c *fiber.Ctx) error {
	header, err := c.FormFile(AudioField)
	if err != nil {
		return fault.AtStage(fault.StageIngress, fault.KindBadInput, fmt.Errorf("%w: %v", ErrMissingAudio, err))
	}
	file, err := header.Open()
	if err != nil {
		return fault.AtStage(fault.StageIngress, fault.KindInternal, fmt.Errorf("open upload: %w", err))
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return fault.AtStage(fault.StageIngress, fault.KindInternal, fmt.Errorf("read upload: %w", err))
	}

	payload, err := s.relay.Handle(c.UserContext(), pipeline.Upload{Filename: header.Filename, Data: data})
	if err != nil {
		return err
	}
	return c.JSON(payload)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var (
		fe     *fault.Error
		fbr    *fiber.Error
		status int
		detail errorDetail
	)
	switch {
	case errors.As(err, &fe):
		status = fault.HTTPStatus(fe.Kind)
		detail = errorDetail{Kind: string(fe.Kind), Stage: string(fe.Stage), Message: fe.Err.Error()}
		if fe.Kind == fault.KindInternal {
			s.logger.Error("request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
			detail.Message = "internal error"
		}
	case errors.As(err, &fbr):
		status = fbr.Code
		kind := fault.KindBadInput
		if status >= fiber.StatusInternalServerError {
			kind = fault.KindInternal
		}
		detail = errorDetail{Kind: string(kind), Message: fbr.Message}
	default:
		s.logger.Error("request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
		status = fiber.StatusInternalServerError
		detail = errorDetail{Kind: string(fault.KindInternal), Message: "internal error"}
	}
	return c.Status(status).JSON(errorResponse{Error: detail})
}
