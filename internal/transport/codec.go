package transport

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"esminify/internal/task"
)

// Requests and results cross the worker boundary as structpb.Struct; only
// plain data travels, never callbacks. Text fields carry raw asset bytes,
// which need not be UTF-8, so they are base64 encoded on the wire.

func EncodeRequest(r task.Request) (*structpb.Struct, error) {
	m := map[string]any{
		"file":             r.File,
		"input":            blob(r.Input),
		"extract_comments": r.ExtractComments,
	}
	if len(r.InputSourceMap) > 0 {
		m["input_source_map"] = base64.StdEncoding.EncodeToString(r.InputSourceMap)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request %s: %w", r.File, err)
	}
	return s, nil
}

func DecodeRequest(s *structpb.Struct) (task.Request, error) {
	f := s.GetFields()
	r := task.Request{
		File:            f["file"].GetStringValue(),
		ExtractComments: f["extract_comments"].GetBoolValue(),
	}
	var err error
	if r.Input, err = unblob(f["input"]); err != nil {
		return task.Request{}, fmt.Errorf("transport: decode request %s input: %w", r.File, err)
	}
	if v, ok := f["input_source_map"]; ok {
		sm, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return task.Request{}, fmt.Errorf("transport: decode request %s source map: %w", r.File, err)
		}
		if len(sm) > 0 {
			r.InputSourceMap = sm
		}
	}
	return r, nil
}

func EncodeResult(r task.Result) (*structpb.Struct, error) {
	m := map[string]any{
		"code":               blob(r.Code),
		"warnings":           toList(r.Warnings),
		"extracted_comments": toList(r.ExtractedComments),
	}
	if e := r.Error; e != nil {
		m["error"] = map[string]any{
			"message": blob(e.Message),
			"line":    e.Line,
			"column":  e.Column,
			"stack":   blob(e.Stack),
		}
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("transport: encode result: %w", err)
	}
	return s, nil
}

func DecodeResult(s *structpb.Struct) (task.Result, error) {
	f := s.GetFields()
	var (
		r   task.Result
		err error
	)
	if r.Code, err = unblob(f["code"]); err != nil {
		return task.Result{}, fmt.Errorf("transport: decode result code: %w", err)
	}
	if r.Warnings, err = fromList(f["warnings"]); err != nil {
		return task.Result{}, fmt.Errorf("transport: decode result warnings: %w", err)
	}
	if r.ExtractedComments, err = fromList(f["extracted_comments"]); err != nil {
		return task.Result{}, fmt.Errorf("transport: decode result comments: %w", err)
	}
	if ev, ok := f["error"]; ok && ev.GetStructValue() != nil {
		ef := ev.GetStructValue().GetFields()
		info := &task.ErrorInfo{
			Line:   int(ef["line"].GetNumberValue()),
			Column: int(ef["column"].GetNumberValue()),
		}
		if info.Message, err = unblob(ef["message"]); err != nil {
			return task.Result{}, fmt.Errorf("transport: decode result error: %w", err)
		}
		if info.Stack, err = unblob(ef["stack"]); err != nil {
			return task.Result{}, fmt.Errorf("transport: decode result stack: %w", err)
		}
		r.Error = info
	}
	return r, nil
}

func blob(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func unblob(v *structpb.Value) (string, error) {
	b, err := base64.StdEncoding.DecodeString(v.GetStringValue())
	return string(b), err
}

func toList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = blob(s)
	}
	return out
}

func fromList(v *structpb.Value) ([]string, error) {
	list := v.GetListValue().GetValues()
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, err := unblob(item)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
