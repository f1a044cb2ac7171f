package task

import "fmt"

// Task is one asset to minify under the current configuration. The scheduler
// owns it from Build until Callback fires.
type Task struct {
	File           string
	Input          string
	InputSourceMap []byte
	// CommentsFile names the asset extracted comments go to; empty when
	// extraction was not requested.
	CommentsFile string

	// KeyMaterial is nil when caching is disabled.
	KeyMaterial *KeyMaterial
	// CacheKey is filled in by the cache on first lookup.
	CacheKey string

	Callback func(Result)
}

// Request is the plain-data part of a task handed to an executor, inline or
// across the worker boundary.
func (t *Task) Request() Request {
	return Request{
		File:            t.File,
		Input:           t.Input,
		InputSourceMap:  t.InputSourceMap,
		ExtractComments: t.CommentsFile != "",
	}
}

type Request struct {
	File            string `json:"file"`
	Input           string `json:"input"`
	InputSourceMap  []byte `json:"input_source_map,omitempty"`
	ExtractComments bool   `json:"extract_comments,omitempty"`
}

// Result is produced once per task, by the cache or by the engine.
type Result struct {
	Code              string     `json:"code"`
	Error             *ErrorInfo `json:"error,omitempty"`
	Warnings          []string   `json:"warnings,omitempty"`
	ExtractedComments []string   `json:"extracted_comments,omitempty"`
}

// Failed wraps err into a result carrying only an error.
func Failed(err error) Result {
	return Result{Error: ErrorFrom(err)}
}

// ErrorInfo describes an engine or dispatch failure as plain data.
type ErrorInfo struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (%d:%d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// ErrorFrom converts err to an ErrorInfo, keeping location data when err
// already is one.
func ErrorFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if info, ok := err.(*ErrorInfo); ok {
		cp := *info
		return &cp
	}
	return &ErrorInfo{Message: err.Error()}
}

// KeyMaterial identifies a task for caching. Two tasks with equal material
// share a cache entry.
type KeyMaterial struct {
	Engine      string         `json:"engine"`
	Plugin      string         `json:"plugin"`
	Options     map[string]any `json:"options"`
	Runtime     string         `json:"runtime"`
	File        string         `json:"file"`
	ContentHash string         `json:"content_hash"`
}
