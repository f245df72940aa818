package realtime

import (
	"errors"
	"fmt"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const PhoneNumberToolName = "PhoneNumber"

// Sender is the write side of a Transport.
type Sender interface {
	Send(ev ClientEvent) error
}

// FunctionCall is a tool invocation announced by the model.
type FunctionCall struct {
	CallId    string
	Name      string
	Arguments string
}

func PhoneNumberTool() ToolDefinition {
	return ToolDefinition{
		Type:        "function",
		Name:        PhoneNumberToolName,
		Description: "Używaj tego narzędzia za każdym razem kiedy wykryjesz numer telefonu",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"phone_number": map[string]any{
					"type":        "string",
					"description": "Numer telefonu.",
				},
			},
			"required": []string{"phone_number"},
		},
	}
}

type phoneNumberArgs struct {
	PhoneNumber *string `json:"phone_number"`
}

type phoneNumberResult struct {
	PhoneNumber string `json:"phone_number"`
	Success     bool   `json:"success"`
}

// ToolHandler answers PhoneNumber calls with the number spelled out in words
// so the voice reads it digit by digit.
type ToolHandler struct {
	logger   shared.LoggerAdapter
	sender   Sender
	language string
}

func NewToolHandler(logger shared.LoggerAdapter, sender Sender, language string) *ToolHandler {
	return &ToolHandler{logger: logger, sender: sender, language: language}
}

// Handle sends exactly one function_call_output for a valid PhoneNumber call
// and nothing otherwise.
func (h *ToolHandler) Handle(call FunctionCall) error {
	if call.Name != PhoneNumberToolName {
		h.logger.Debug("ignoring call to unknown tool", zap.String("name", call.Name))
		return nil
	}
	var args phoneNumberArgs
	if err := sonic.UnmarshalString(call.Arguments, &args); err != nil {
		err = fmt.Errorf("parsing %s arguments: %w", call.Name, err)
		h.logger.Error("invalid tool arguments", err, zap.String("call_id", call.CallId))
		return err
	}
	if args.PhoneNumber == nil {
		err := errors.New("phone_number is missing")
		h.logger.Error("invalid tool arguments", err, zap.String("call_id", call.CallId))
		return err
	}
	words := tools.SpokenDigits(*args.PhoneNumber, h.language)
	h.logger.Info("phone number detected",
		zap.String("call_id", call.CallId),
		zap.String("phone_number", *args.PhoneNumber),
		zap.String("words", words),
	)
	output, err := sonic.MarshalString(phoneNumberResult{PhoneNumber: words, Success: true})
	if err != nil {
		return fmt.Errorf("encoding tool output: %w", err)
	}
	if err := h.sender.Send(NewFunctionCallOutput(call.CallId, output)); err != nil {
		h.logger.Error("sending tool output", err, zap.String("call_id", call.CallId))
		return err
	}
	return nil
}
