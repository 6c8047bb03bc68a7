package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOfWrappedError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUpstreamFetchFailed, CategoryTransient, cause, "fetching ticket")

	// Classification survives further fmt wrapping.
	outer := fmt.Errorf("ingest: %w", err)

	assert.Equal(t, CodeUpstreamFetchFailed, CodeOf(outer))
	assert.Equal(t, CategoryTransient, CategoryOf(outer))
	assert.True(t, Retryable(outer))
	assert.True(t, errors.Is(outer, cause))
}

func TestUnclassifiedErrorsAreInternal(t *testing.T) {
	err := errors.New("something broke")

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, CategoryInternal, CategoryOf(err))
	assert.False(t, Retryable(err))
}

func TestDownstreamSubcodeCategories(t *testing.T) {
	cases := []struct {
		subcode string
		want    Category
	}{
		{SubAuth, CategoryAuth},
		{SubNotFound, CategoryPermanent},
		{SubRateLimited, CategoryTransient},
		{SubServer, CategoryTransient},
		{SubNetwork, CategoryTransient},
	}
	for _, tc := range cases {
		err := Downstream(tc.subcode, nil, "create issue")
		assert.Equal(t, tc.want, err.Category, tc.subcode)
		assert.Contains(t, err.Error(), "DOWNSTREAM_API_ERROR/"+tc.subcode)
	}
}

func TestErrorStringIncludesCode(t *testing.T) {
	err := New(CodePageLimitExceeded, CategoryPermanent, "pdf has 14 pages")
	assert.Equal(t, "PAGE_LIMIT_EXCEEDED: pdf has 14 pages", err.Error())
}
