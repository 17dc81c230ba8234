// Package handlers holds the handler chains this router ships with.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/subject-router/pkg/handler"
)

const logPrefix = "handlers:register"

const (
	RegisterHandlerID   = "Register"
	RegisterRequestType = "RegisterRequest"
)

// maxMessageLen bounds RegisterRequest.Message.
const maxMessageLen = 1024

type RegisterRequest struct {
	Message string `json:"message"`
}

type RegisterResponse struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// Register adds the sample chains and their request types to reg.
func Register(reg *handler.Registry) error {
	if err := reg.RegisterType(RegisterRequestType, handler.TypeOf[RegisterRequest]()); err != nil {
		return err
	}
	return reg.RegisterHandler(RegisterHandlerID, handler.Handler{
		Steps: []handler.Step{
			{Order: 1, Name: "validate", Run: validateRegister},
			{Order: 2, Name: "normalize", Run: normalizeRegister},
		},
		Respond: respondRegister,
	})
}

func validateRegister(_ context.Context, req *handler.Request, _ *handler.Transporter) error {
	slog.Debug(fmt.Sprintf("%s - step 1 request=%s", logPrefix, req.ID))
	dto, ok := handler.DTOAs[*RegisterRequest](req)
	if !ok {
		return fmt.Errorf("%s - unexpected request type %T", logPrefix, req.DTO)
	}
	if len(dto.Message) > maxMessageLen {
		return handler.Reject(handler.NewDetailedError(1, fmt.Sprintf("message longer than %d bytes", maxMessageLen), handler.KindBadRequest))
	}
	return nil
}

func normalizeRegister(_ context.Context, req *handler.Request, t *handler.Transporter) error {
	slog.Debug(fmt.Sprintf("%s - step 2 request=%s", logPrefix, req.ID))
	dto, _ := handler.DTOAs[*RegisterRequest](req)
	t.Put("message", strings.TrimSpace(dto.Message))
	return nil
}

func respondRegister(_ context.Context, req *handler.Request, t *handler.Transporter) (handler.ResultEnvelope, error) {
	slog.Debug(fmt.Sprintf("%s - provide response request=%s", logPrefix, req.ID))
	msg, _ := handler.Value[string](t, "message")
	return handler.Success(RegisterResponse{ID: 1, Message: msg}), nil
}
