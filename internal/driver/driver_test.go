package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

func TestNewSelectsDriverPerPlatform(t *testing.T) {
	cases := []struct {
		platform models.Platform
		want     any
	}{
		{models.PlatformTwitter, &twitterDriver{}},
		{models.PlatformLinkedIn, &linkedinDriver{}},
		{models.PlatformThreads, &threadsDriver{}},
	}
	for _, tc := range cases {
		d, err := New(tc.platform, nil)
		require.NoError(t, err, tc.platform)
		assert.IsType(t, tc.want, d)
	}
}

func TestNewRejectsUnknownPlatform(t *testing.T) {
	_, err := New("friendster", nil)
	assert.ErrorIs(t, err, faults.ErrUnsupported)
}

func TestToOptionalCookies(t *testing.T) {
	cookies := []models.SessionCookie{
		{
			Name:     "auth_token",
			Value:    "abc123",
			Domain:   ".x.com",
			Path:     "",
			Expires:  1757000000,
			HTTPOnly: true,
			Secure:   true,
			SameSite: "no_restriction",
		},
		{Name: "ct0", Value: "csrf", Domain: ".x.com", Path: "/i"},
	}

	out := toOptionalCookies(cookies)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, "auth_token", first.Name)
	assert.Equal(t, ".x.com", *first.Domain)
	assert.Equal(t, "/", *first.Path, "empty path defaults to /")
	assert.Equal(t, float64(1757000000), *first.Expires)
	assert.True(t, *first.HttpOnly)
	assert.True(t, *first.Secure)
	require.NotNil(t, first.SameSite)

	second := out[1]
	assert.Equal(t, "/i", *second.Path)
	assert.Nil(t, second.Expires)
	assert.Nil(t, second.HttpOnly)
	assert.Nil(t, second.SameSite)
}

func TestToSameSite(t *testing.T) {
	assert.NotNil(t, toSameSite("Strict"))
	assert.NotNil(t, toSameSite("lax"))
	assert.NotNil(t, toSameSite("no_restriction"))
	assert.Nil(t, toSameSite("unspecified"))
	assert.Nil(t, toSameSite(""))
}

func TestSetCookiesRequiresCookies(t *testing.T) {
	s := &session{}
	err := s.setCookies(nil)
	assert.ErrorIs(t, err, faults.ErrSessionExpired)
}
