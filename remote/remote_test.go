package remote

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestCommandVocabulary(t *testing.T) {
	cases := []struct {
		cmd  Command
		op   Op
		want string
	}{
		{StopService("myapp"), OpStopService, `systemctl stop "myapp"`},
		{StartService("myapp"), OpStartService, `systemctl start "myapp"`},
		{InstallArtifact("/tmp/stage", "/opt/myapp/myapp", "v5"), OpInstall, `"/tmp/stage" "/opt/myapp/myapp"`},
		{QueryVersion("/opt/myapp/myapp"), OpQueryVersion, `/opt/myapp/myapp.version`},
		{TransferArtifact(strings.NewReader("bin"), "/tmp/stage"), OpTransfer, `cat > "/tmp/stage"`},
	}

	for _, c := range cases {
		if c.cmd.Op != c.op {
			t.Errorf("op = %q, want %q", c.cmd.Op, c.op)
		}
		if !strings.Contains(c.cmd.Line, c.want) {
			t.Errorf("%s line = %q, want substring %q", c.op, c.cmd.Line, c.want)
		}
	}
}

func TestInstallWritesVersionMarker(t *testing.T) {
	cmd := InstallArtifact("/tmp/stage", "/opt/myapp/myapp", "v5")
	if !strings.Contains(cmd.Line, `"v5"`) {
		t.Errorf("install line missing version: %q", cmd.Line)
	}
	if !strings.Contains(cmd.Line, `/opt/myapp/myapp.version`) {
		t.Errorf("install line missing marker path: %q", cmd.Line)
	}
}

func TestCredentialRedaction(t *testing.T) {
	pemBytes := testKeyPEM(t)
	cred, err := NewCredential("deploy/prod-1", "deploy", pemBytes)
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}

	s := cred.String()
	if strings.Contains(s, "PRIVATE") || strings.Contains(s, string(pemBytes[:40])) {
		t.Errorf("String() leaked key material: %q", s)
	}
	if !strings.Contains(s, "deploy/prod-1") {
		t.Errorf("String() should carry the ref: %q", s)
	}
}

func TestCredentialValidation(t *testing.T) {
	if _, err := NewCredential("ref", "", testKeyPEM(t)); err == nil {
		t.Error("expected error for empty user")
	}
	if _, err := NewCredential("ref", "deploy", []byte("not a key")); err == nil {
		t.Error("expected error for garbage key")
	}
}

func TestErrorKindsDistinct(t *testing.T) {
	var connErr error = &ConnectionError{Addr: "10.0.0.5:22", Err: errors.New("refused")}
	var cmdErr error = &CommandError{Op: OpInstall, ExitCode: 1, Output: "no space left"}

	var ce *ConnectionError
	if !errors.As(connErr, &ce) {
		t.Error("ConnectionError not matched by errors.As")
	}
	if errors.As(cmdErr, &ce) {
		t.Error("CommandError matched as ConnectionError")
	}

	var me *CommandError
	if !errors.As(cmdErr, &me) {
		t.Error("CommandError not matched by errors.As")
	}
	if me.Op != OpInstall || me.ExitCode != 1 {
		t.Errorf("CommandError fields lost: %+v", me)
	}
	if !strings.Contains(cmdErr.Error(), "no space left") {
		t.Errorf("CommandError message should carry output: %q", cmdErr.Error())
	}
}
