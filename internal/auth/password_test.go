package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordService_HashFormat(t *testing.T) {
	p := newPasswordServiceWithCost(4)

	first, err := p.Hash("pothole-on-5th-main")
	require.NoError(t, err)
	second, err := p.Hash("pothole-on-5th-main")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, "$2a$04$"), "got %q", first)
	assert.NotEqual(t, first, second, "each hash gets its own salt")
	assert.NotContains(t, first, "pothole")
}

func TestPasswordService_HashLengthLimit(t *testing.T) {
	p := newPasswordServiceWithCost(4)

	_, err := p.Hash(strings.Repeat("a", MaxPasswordBytes))
	assert.NoError(t, err)

	_, err = p.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	// 36 runes, 72 bytes
	_, err = p.Hash(strings.Repeat("é", 36))
	assert.NoError(t, err)

	_, err = p.Hash(strings.Repeat("é", 37))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestPasswordService_Verify(t *testing.T) {
	p := newPasswordServiceWithCost(4)
	stored, err := p.Hash("streetlight-42")
	require.NoError(t, err)

	tests := []struct {
		name      string
		hash      string
		plaintext string
		wantErr   error
		anyErr    bool
	}{
		{name: "matching password", hash: stored, plaintext: "streetlight-42"},
		{name: "wrong password", hash: stored, plaintext: "streetlight-43", wantErr: ErrInvalidPassword},
		{name: "case matters", hash: stored, plaintext: "STREETLIGHT-42", wantErr: ErrInvalidPassword},
		{name: "github account without hash", hash: "", plaintext: "anything", wantErr: ErrInvalidPassword},
		{name: "corrupt hash", hash: "not-a-bcrypt-hash", plaintext: "streetlight-42", anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Verify(tt.hash, tt.plaintext)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrInvalidPassword)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
