package remote

import (
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Credential is a handle to SSH key material for one target. It is built
// from a vault bundle at run start and passed by reference so command
// text and logs never carry the key itself.
type Credential struct {
	Ref    string
	User   string
	signer ssh.Signer
}

func NewCredential(ref, user string, privateKeyPEM []byte) (*Credential, error) {
	if user == "" {
		return nil, fmt.Errorf("credential %s: user is required", ref)
	}
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("credential %s: parse key: %w", ref, err)
	}
	return &Credential{Ref: ref, User: user, signer: signer}, nil
}

// String redacts the key material.
func (c *Credential) String() string {
	return fmt.Sprintf("credential(%s)", c.Ref)
}
