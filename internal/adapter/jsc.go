package adapter

import "github.com/gowebpki/jcs"

// JCS defines an interface for RFC 8785 canonical JSON operations to enable
// mocking. Claim-intent payloads are canonicalized before hashing so the
// server reproduces exactly the bytes the wallet signed.
//
//go:generate mockgen -source=jsc.go -destination=../mocks/jsc.go -package=mocks -mock_names=JCS=MockJCS
type JCS interface {
	Transform(data []byte) ([]byte, error)
}

// RealJCS implements JCS using the standard jcs package
type RealJCS struct{}

// NewJCS creates a new real JCS implementation
func NewJCS() JCS {
	return &RealJCS{}
}

func (j *RealJCS) Transform(data []byte) ([]byte, error) {
	return jcs.Transform(data)
}
