package live

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Command types accepted from the client.
const (
	CommandEval     = "eval"
	CommandNavigate = "navigate"
)

// Reply types sent to the client.
const (
	ReplyEvalResult = "eval_result"
	ReplyInfo       = "info"
	ReplyError      = "error"
)

// Command is one client message.
type Command struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Reply is one server message. Payload is a scalar JSON value.
type Reply struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ProtocolError is a malformed or unsupported client message. It is reported
// to the client and never closes the channel.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "live protocol: " + e.Reason }

// DecodeCommand parses and validates one client message.
func DecodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, &ProtocolError{Reason: "invalid json"}
	}
	switch cmd.Type {
	case CommandEval:
	case CommandNavigate:
		if cmd.URL == "" {
			return Command{}, &ProtocolError{Reason: "url must not be empty"}
		}
	default:
		return Command{}, &ProtocolError{Reason: "unknown message type"}
	}
	return cmd, nil
}

// Dispatch decodes raw and runs it against page. Every outcome, including a
// failed action, becomes a Reply.
func Dispatch(ctx context.Context, page schemas.Page, raw []byte) Reply {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		return errorReply(err)
	}

	switch cmd.Type {
	case CommandEval:
		var result any
		if err := page.Evaluate(ctx, cmd.Code, &result); err != nil {
			return errorReply(err)
		}
		return Reply{Type: ReplyEvalResult, Payload: scalar(result)}
	default:
		if err := page.Goto(ctx, cmd.URL); err != nil {
			return errorReply(err)
		}
		return Reply{Type: ReplyInfo, Payload: "navigated to " + cmd.URL}
	}
}

func errorReply(err error) Reply {
	if perr, ok := err.(*ProtocolError); ok {
		return Reply{Type: ReplyError, Payload: perr.Reason}
	}
	return Reply{Type: ReplyError, Payload: err.Error()}
}

// scalar keeps JSON scalars as they are and renders anything else as its
// JSON text.
func scalar(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	s, err := json.MarshalToString(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}
