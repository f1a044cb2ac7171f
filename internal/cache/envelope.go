package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
)

// envelope repeats the full key next to the value so a digest collision or a
// foreign file reads as a miss instead of a wrong result.
type envelope struct {
	Key  string `json:"key"`
	Data []byte `json:"data"`
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func seal(key string, data []byte) ([]byte, error) {
	return sonic.Marshal(envelope{Key: key, Data: data})
}

func unseal(key string, raw []byte) ([]byte, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: corrupt entry: %v", ErrMiss, err)
	}
	if env.Key != key {
		return nil, fmt.Errorf("%w: key mismatch", ErrMiss)
	}
	return env.Data, nil
}
