package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes why an inbound frame was rejected.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

type wireOutputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`
}

type wireResponse struct {
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Output []wireOutputItem `json:"output"`
}

type wireSession struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type wireFrame struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	Session    *wireSession    `json:"session"`
	Response   *wireResponse   `json:"response"`
	Item       *wireOutputItem `json:"item"`
	ItemID     string          `json:"item_id"`
	ResponseID string          `json:"response_id"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Error      *wireError      `json:"error"`
}

// Decode turns one raw control-channel frame into an Event. It never fails:
// invalid frames come back as MalformedEvent and unrecognized type tags as
// UnknownEvent.
func Decode(data []byte) Event {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return malformed("", data, badFrame("invalid json frame", ""))
	}
	typ := strings.TrimSpace(frame.Type)
	if typ == "" {
		return malformed("", data, badFrame("missing type", "type"))
	}

	switch typ {
	case TypeSessionCreated:
		ev := SessionCreated{}
		if frame.Session != nil {
			ev.SessionID = frame.Session.ID
			ev.Model = frame.Session.Model
		}
		return ev
	case TypeSessionUpdated:
		ev := SessionUpdated{}
		if frame.Session != nil {
			ev.SessionID = frame.Session.ID
		}
		return ev
	case TypeResponseCreated:
		ev := ResponseCreated{}
		if frame.Response != nil {
			ev.ResponseID = frame.Response.ID
		}
		return ev
	case TypeResponseDone:
		return decodeResponseDone(typ, data, frame)
	case TypeTranscriptDelta, TypeOutputTranscriptDelta:
		return TranscriptDelta{ResponseID: frame.ResponseID, ItemID: frame.ItemID, Delta: frame.Delta}
	case TypeTranscriptDone, TypeOutputTranscriptDone:
		return TranscriptDone{ResponseID: frame.ResponseID, ItemID: frame.ItemID, Transcript: frame.Transcript}
	case TypeInputTranscriptionCompleted:
		return InputTranscriptionCompleted{ItemID: frame.ItemID, Transcript: frame.Transcript}
	case TypeItemCreated:
		if frame.Item == nil {
			return malformed(typ, data, badFrame("conversation.item.created.item is required", "item"))
		}
		return ItemCreated{ItemID: frame.Item.ID, Role: frame.Item.Role, Kind: frame.Item.Type}
	case TypeSpeechStarted:
		return SpeechStarted{ItemID: frame.ItemID}
	case TypeSpeechStopped:
		return SpeechStopped{ItemID: frame.ItemID}
	case TypeAudioDelta, TypeOutputAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(frame.Delta)
		if err != nil {
			return malformed(typ, data, badFrame("audio delta is not valid base64", "delta"))
		}
		return AudioDelta{ResponseID: frame.ResponseID, Audio: audio}
	case TypeError:
		if frame.Error == nil {
			return malformed(typ, data, badFrame("error.error is required", "error"))
		}
		return ErrorEvent{
			EventID: frame.EventID,
			Kind:    frame.Error.Type,
			Code:    frame.Error.Code,
			Message: frame.Error.Message,
			Param:   frame.Error.Param,
		}
	default:
		return UnknownEvent{Type: typ, Raw: data}
	}
}

func decodeResponseDone(typ string, data []byte, frame wireFrame) Event {
	if frame.Response == nil {
		return malformed(typ, data, badFrame("response.done.response is required", "response"))
	}
	ev := ResponseDone{ResponseID: frame.Response.ID, Status: frame.Response.Status}
	for i, item := range frame.Response.Output {
		if item.Type != "function_call" {
			continue
		}
		if strings.TrimSpace(item.CallID) == "" {
			ev.Skipped = append(ev.Skipped, badFrame("function_call.call_id is required", fmt.Sprintf("response.output[%d].call_id", i)))
			continue
		}
		ev.FunctionCalls = append(ev.FunctionCalls, FunctionCall{
			Name:      item.Name,
			CallID:    item.CallID,
			Arguments: item.Arguments,
		})
	}
	return ev
}

func malformed(typ string, data []byte, err *DecodeError) MalformedEvent {
	return MalformedEvent{Type: typ, Raw: data, Err: err}
}
