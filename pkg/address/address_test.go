package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		user   string
		host   string
		port   int
		scheme string
	}{
		{"простой адрес", "sip:alice@example.org", "alice", "example.org", 0, "sip"},
		{"адрес с портом", "sip:bob@10.0.0.1:5080", "bob", "10.0.0.1", 5080, "sip"},
		{"sips схема", "sips:carol@secure.example.org", "carol", "secure.example.org", 0, "sips"},
		{"tel номер", "tel:+79991234567", "+79991234567", "", 0, "tel"},
		{"без пользователя", "sip:conference.example.org", "", "conference.example.org", 0, "sip"},
		{"IPv6 хост", "sip:dave@[2001:db8::1]:5060", "dave", "2001:db8::1", 5060, "sip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, a.Scheme())
			assert.Equal(t, tt.user, a.User())
			assert.Equal(t, tt.host, a.Host())
			assert.Equal(t, tt.port, a.Port())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{"", "нет схемы", "http://example.org", "sip:"} {
		_, err := Parse(raw)
		assert.Error(t, err, "адрес %q должен быть отклонен", raw)
	}
}

func TestParseParams(t *testing.T) {
	a, err := Parse("sip:alice@example.org;transport=tcp;conf-id=abc123;lr")
	require.NoError(t, err)

	v, ok := a.Param("transport")
	assert.True(t, ok)
	assert.Equal(t, "tcp", v)

	v, ok = a.Param("conf-id")
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	assert.True(t, a.HasParam("lr"))
	assert.False(t, a.HasParam("admin"))

	// Порядок параметров сохраняется
	params := a.Params()
	require.Len(t, params, 3)
	assert.Equal(t, "transport", params[0].Name)
	assert.Equal(t, "conf-id", params[1].Name)
	assert.Equal(t, "lr", params[2].Name)
}

func TestParseDisplayName(t *testing.T) {
	a, err := Parse(`"Alice Wonder" <sip:alice@example.org>;admin=1`)
	require.NoError(t, err)
	assert.Equal(t, "Alice Wonder", a.DisplayName())
	assert.Equal(t, "alice", a.User())
	assert.True(t, a.HasParam("admin"))
}

func TestWeakEqual(t *testing.T) {
	a := MustParse("sip:alice@example.org;transport=tcp")
	b := MustParse("sips:alice@EXAMPLE.ORG")
	c := MustParse("sip:alice@example.org:5080")

	// Слабое сравнение игнорирует схему и параметры
	assert.True(t, a.WeakEqual(b))
	// Но не порт
	assert.False(t, a.WeakEqual(c))

	// Строгое сравнение учитывает всё
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a.Clone()))
}

func TestImmutability(t *testing.T) {
	a := MustParse("sip:alice@example.org")

	b := a.WithParam("gr", "urn:uuid:1234")
	assert.False(t, a.HasParam("gr"), "исходный адрес не должен измениться")
	assert.Equal(t, "urn:uuid:1234", b.GRUU())

	c := b.WithoutParam("gr")
	assert.True(t, b.HasParam("gr"))
	assert.False(t, c.HasParam("gr"))
}

func TestStringRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"sip:alice@example.org",
		"sip:bob@10.0.0.1:5080;transport=udp",
		"sips:carol@secure.example.org;conf-id=xyz",
		"tel:+79991234567",
	} {
		a := MustParse(raw)
		b, err := Parse(a.String())
		require.NoError(t, err)
		assert.True(t, a.Equal(b), "round-trip для %q", raw)
	}
}
