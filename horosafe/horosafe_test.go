package horosafe

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://203.0.113.10/webhook", nil},
		{"ftp://example.com/hook", ErrUnsafeScheme},
		{"http://127.0.0.1:8080/hook", ErrSSRF},
		{"http://10.1.2.3/hook", ErrSSRF},
		{"http://192.168.1.5/hook", ErrSSRF},
		{"http://[::1]/hook", ErrSSRF},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.wantErr == nil && err != nil {
			t.Errorf("ValidateURL(%q): unexpected error %v", tt.url, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateURL(%q): got %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateURL_NoHost(t *testing.T) {
	if err := ValidateURL("https:///path"); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data: got %q, want %q", data, "hello")
	}

	_, err = LimitedReadAll(strings.NewReader("hello!"), 5)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("error: got %v, want ErrResponseTooLarge", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"127.0.0.1", "10.0.0.1", "172.16.5.4", "192.168.0.1", "169.254.1.1", "::1", "fd00::1", "0.0.0.0"}
	for _, s := range private {
		if !isPrivateIP(net.ParseIP(s)) {
			t.Errorf("isPrivateIP(%s): got false, want true", s)
		}
	}
	public := []string{"8.8.8.8", "140.82.112.3", "2606:4700::1111"}
	for _, s := range public {
		if isPrivateIP(net.ParseIP(s)) {
			t.Errorf("isPrivateIP(%s): got true, want false", s)
		}
	}
}
