package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"esminify/internal/task"
)

const esbuildModule = "github.com/evanw/esbuild"

type ESBuildOptions struct {
	Whitespace  bool
	Identifiers bool
	Syntax      bool
	Target      string
}

// DefaultESBuildOptions turns every minification pass on.
func DefaultESBuildOptions() ESBuildOptions {
	return ESBuildOptions{Whitespace: true, Identifiers: true, Syntax: true, Target: "esnext"}
}

// ESBuild minifies through the esbuild Go API. The API is safe for
// concurrent use and needs no child process.
type ESBuild struct {
	opts   ESBuildOptions
	target api.Target
}

func NewESBuild(opts ESBuildOptions) *ESBuild { return &ESBuild{opts: opts} }

var targets = map[string]api.Target{
	"":       api.ESNext,
	"esnext": api.ESNext,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

func (e *ESBuild) Start(context.Context) error {
	t, ok := targets[strings.ToLower(e.opts.Target)]
	if !ok {
		return fmt.Errorf("esbuild: unsupported target %q", e.opts.Target)
	}
	e.target = t
	return nil
}

func (e *ESBuild) Stop() error      { return nil }
func (e *ESBuild) Concurrent() bool { return true }

func (e *ESBuild) Version() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == esbuildModule {
				return "esbuild@" + dep.Version
			}
		}
	}
	return "esbuild@unknown"
}

func (e *ESBuild) Transform(ctx context.Context, req task.Request) (task.Result, error) {
	if err := ctx.Err(); err != nil {
		return task.Result{}, err
	}
	opts := api.TransformOptions{
		MinifyWhitespace:  e.opts.Whitespace,
		MinifyIdentifiers: e.opts.Identifiers,
		MinifySyntax:      e.opts.Syntax,
		Target:            e.target,
		Loader:            api.LoaderJS,
		Sourcefile:        req.File,
		LogLevel:          api.LogLevelSilent,
	}
	if req.ExtractComments {
		opts.LegalComments = api.LegalCommentsExternal
	}

	out := api.Transform(req.Input, opts)
	if len(out.Errors) > 0 {
		return task.Result{}, messagesError(out.Errors)
	}

	res := task.Result{Code: string(out.Code)}
	for _, w := range out.Warnings {
		res.Warnings = append(res.Warnings, formatMessage(w))
	}
	if req.ExtractComments {
		res.ExtractedComments = SplitComments(string(out.LegalComments))
	}
	return res, nil
}

func messagesError(msgs []api.Message) *task.ErrorInfo {
	first := msgs[0]
	info := &task.ErrorInfo{Message: first.Text}
	if loc := first.Location; loc != nil {
		info.Line, info.Column = loc.Line, loc.Column
	}
	if len(msgs) > 1 {
		lines := []string{"Error: " + first.Text}
		for _, m := range msgs[1:] {
			lines = append(lines, "    "+formatMessage(m))
		}
		info.Stack = strings.Join(lines, "\n")
	}
	return info
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s [%s:%d,%d]", m.Text, m.Location.File, m.Location.Line, m.Location.Column)
}

// SplitComments breaks an extracted comments blob into single comments.
func SplitComments(blob string) []string {
	var out []string
	for s := strings.TrimSpace(blob); s != ""; s = strings.TrimSpace(s) {
		var c string
		switch {
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				c, s = s, ""
			} else {
				c, s = s[:end+4], s[end+4:]
			}
		default:
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				c, s = s, ""
			} else {
				c, s = s[:nl], s[nl+1:]
			}
		}
		out = append(out, strings.TrimSpace(c))
	}
	return out
}
