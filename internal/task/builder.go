package task

import "fmt"

// Reader reads the current content of a named asset.
type Reader interface {
	Source(name string) (string, error)
}

// Builder turns candidate asset names into tasks.
type Builder struct {
	Assets Reader
	Hash   HashOptions

	// Material is the per-pass part of the key material. Nil disables
	// caching; File and ContentHash are filled per task.
	Material *KeyMaterial

	// CommentsFile names the extracted comments asset for a file. Nil means
	// extraction is off.
	CommentsFile func(file string) string

	// Apply returns the callback that applies a result for the task.
	Apply func(t *Task) func(Result)
}

// Build reads file once and returns its task. The content digest is computed
// even when caching is off so a bad hash setting fails the same way in both
// modes.
func (b *Builder) Build(file string) (*Task, error) {
	input, err := b.Assets.Source(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	t := &Task{File: file, Input: input}
	if b.CommentsFile != nil {
		t.CommentsFile = b.CommentsFile(file)
	}

	digest, err := ContentHash(b.Hash, input)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", file, err)
	}
	if b.Material != nil {
		m := *b.Material
		m.File = file
		m.ContentHash = digest
		t.KeyMaterial = &m
	}

	if b.Apply != nil {
		t.Callback = b.Apply(t)
	} else {
		t.Callback = func(Result) {}
	}
	return t, nil
}
