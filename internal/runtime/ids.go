package runtime

import (
	"strconv"

	"github.com/google/uuid"
)

// idNamespace scopes the name-based UUIDs derived for a session.
var idNamespace = uuid.MustParse("6f1c1f0e-6a7d-4a59-9a3b-2d3f0d9a4c11")

// DefaultIDGenerator returns name-based (SHA-1) UUIDs over "session/seq", so
// replaying a turn yields the same ids. A nil namespace uses the package default.
func DefaultIDGenerator(namespace *uuid.UUID) IDGenerator {
	ns := idNamespace
	if namespace != nil {
		ns = *namespace
	}
	return func(sessionID string, seq uint64) string {
		return uuid.NewSHA1(ns, []byte(sessionID+"/"+strconv.FormatUint(seq, 10))).String()
	}
}

// SequentialIDs returns ids of the form prefix-N. Useful for readable tests.
func SequentialIDs(prefix string) IDGenerator {
	return func(_ string, seq uint64) string {
		return prefix + "-" + strconv.FormatUint(seq, 10)
	}
}

// DefaultSampleChooser rotates through samples using the seed.
func DefaultSampleChooser(samples []string, seed uint64) string {
	if len(samples) == 0 {
		return ""
	}
	return samples[seed%uint64(len(samples))]
}

// FirstSample always picks the first sample.
func FirstSample(samples []string, _ uint64) string {
	if len(samples) == 0 {
		return ""
	}
	return samples[0]
}
