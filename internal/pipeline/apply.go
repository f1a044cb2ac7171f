package pipeline

import (
	"fmt"
	"strings"

	"esminify/host"
	"esminify/internal/task"
)

// WarningPrefix marks warnings raised by this plugin.
const WarningPrefix = "ESBuild Plugin: "

// BuildError is a transform failure reported against one asset.
type BuildError struct {
	File string
	Info *task.ErrorInfo
}

func (e *BuildError) Error() string {
	info := e.Info
	head := e.File + " from ESBuild\n"
	switch {
	case info.Line > 0:
		msg := fmt.Sprintf("%s%s [%s:%d,%d]", head, info.Message, e.File, info.Line, info.Column)
		if info.Stack != "" {
			if _, rest, ok := strings.Cut(info.Stack, "\n"); ok {
				msg += "\n" + rest
			} else {
				msg += "\n"
			}
		}
		return msg
	case info.Stack != "":
		return head + info.Stack
	default:
		return head + info.Message
	}
}

func (e *BuildError) Unwrap() error { return e.Info }

// CommentsFile names the asset extracted comments for file go to.
func CommentsFile(file string) string {
	name, _, _ := strings.Cut(file, "?")
	return name + ".LICENSE.txt"
}

// applier turns results into host mutations. Calls are serialized by the
// runner.
type applier struct {
	comp host.Compilation
}

func (a applier) callback(t *task.Task) func(task.Result) {
	return func(res task.Result) { a.apply(t, res) }
}

func (a applier) apply(t *task.Task, res task.Result) {
	if res.Error != nil {
		a.comp.PushError(&BuildError{File: t.File, Info: res.Error})
		return
	}

	code := res.Code
	extracted := t.CommentsFile != "" && len(res.ExtractedComments) > 0
	if extracted && strings.HasPrefix(code, "#!") {
		if i := strings.IndexByte(code, '\n'); i >= 0 {
			code = code[i+1:]
		}
	}
	a.comp.Update(t.File, code)
	if extracted {
		a.comp.Emit(t.CommentsFile, joinComments(res.ExtractedComments))
	}

	for _, w := range res.Warnings {
		a.comp.PushWarning(WarningPrefix + w)
	}
}

func joinComments(comments []string) string {
	seen := make(map[string]bool, len(comments))
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return strings.Join(out, "\n\n") + "\n"
}
