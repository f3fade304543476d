// internal/retrieval/caseurl_test.go
package retrieval

import (
	"net/url"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://v2.courtdrive.com/cases/pacer/flsbke/"

func TestValidateCaseNumber(t *testing.T) {
	valid := []string{"12345", "1:25-bk-12345", "25-10001-ABC", "case_7", strings.Repeat("9", MaxCaseNumberLen)}
	for _, c := range valid {
		assert.NoError(t, ValidateCaseNumber(c), "expected %q to be accepted", c)
	}

	invalid := []string{
		"", ".", "..", "12/345", `12\345`, "12%2F345", "123?x=1", "123#frag",
		"12 345", "123\n", "\t123", "12\x00345", strings.Repeat("9", MaxCaseNumberLen+1), "\xff\xfe",
		"1;25", "a,b", `1"25`, "<1>", "1*2", "1|2", "1'2", "ä",
	}
	for _, c := range invalid {
		err := ValidateCaseNumber(c)
		require.Error(t, err, "expected %q to be rejected", c)
		assert.Equal(t, KindInvalidInput, KindOf(err))
	}
}

func TestBuildCaseURL(t *testing.T) {
	t.Run("case number is one verbatim segment", func(t *testing.T) {
		got, err := BuildCaseURL(testBase, "1:25-bk-12345", "/dockets")
		require.NoError(t, err)
		assert.Equal(t, "https://v2.courtdrive.com/cases/pacer/flsbke/1:25-bk-12345/dockets", got)
	})

	t.Run("trailing slash on the base is optional", func(t *testing.T) {
		a, err := BuildCaseURL("https://site.test/cases/", "7", "")
		require.NoError(t, err)
		b, err := BuildCaseURL("https://site.test/cases", "7", "")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, "https://site.test/cases/7", a)
	})

	t.Run("every separator survives unescaped", func(t *testing.T) {
		got, err := BuildCaseURL(testBase, "1:25-bk-12345.A_b", "/dockets")
		require.NoError(t, err)
		u, err := url.Parse(got)
		require.NoError(t, err)
		segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
		assert.Equal(t, []string{"cases", "pacer", "flsbke", "1:25-bk-12345.A_b", "dockets"}, segments)
	})

	t.Run("bad bases are rejected", func(t *testing.T) {
		for _, base := range []string{"/relative/", "https://site.test/cases?x=1", "https://site.test/#f", "://bad"} {
			_, err := BuildCaseURL(base, "7", "")
			assert.Error(t, err, base)
		}
	})

	t.Run("invalid case numbers never produce a URL", func(t *testing.T) {
		_, err := BuildCaseURL(testBase, "../admin", "/dockets")
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})

	t.Run("distinct case numbers give distinct URLs", func(t *testing.T) {
		seen := map[string]string{}
		for _, c := range []string{"1", "01", "1:1", "1-1", "a", "A", "a.b", "a_b", "a-b"} {
			u, err := BuildCaseURL(testBase, c, "/dockets")
			require.NoError(t, err)
			if prev, dup := seen[u]; dup {
				t.Fatalf("%q and %q both map to %s", prev, c, u)
			}
			seen[u] = c
		}
	})
}

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "Voluntary_Petition_1:25-bk-12345.pdf", OutputFilename("1:25-bk-12345"))
}

// FuzzBuildCaseURL checks that every accepted case number lands in exactly
// one path segment, verbatim.
func FuzzBuildCaseURL(f *testing.F) {
	f.Add([]byte("1:25-bk-12345"))
	f.Add([]byte("../../etc/passwd"))
	f.Add([]byte("%2e%2e"))

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		caseNumber, err := consumer.GetString()
		if err != nil {
			return
		}

		got, err := BuildCaseURL(testBase, caseNumber, "/dockets")
		if ValidateCaseNumber(caseNumber) != nil {
			if err == nil {
				t.Fatalf("invalid case number %q produced %s", caseNumber, got)
			}
			return
		}
		if err != nil {
			t.Fatalf("valid case number %q rejected: %v", caseNumber, err)
		}

		u, err := url.Parse(got)
		if err != nil {
			t.Fatalf("unparseable URL %q: %v", got, err)
		}
		rest := strings.TrimPrefix(u.EscapedPath(), "/cases/pacer/flsbke/")
		segment, ok := strings.CutSuffix(rest, "/dockets")
		if !ok || strings.Contains(segment, "/") {
			t.Fatalf("case number %q escaped its segment: %s", caseNumber, got)
		}
		if segment != caseNumber {
			t.Fatalf("segment %q, want the case number %q verbatim", segment, caseNumber)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			t.Fatalf("case number %q introduced a query or fragment: %s", caseNumber, got)
		}
	})
}
