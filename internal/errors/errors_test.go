package appErrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"invalid":     {appErrors.InvalidArgument("jobId is required"), http.StatusBadRequest},
		"unauth":      {appErrors.Unauthorized("no owner"), http.StatusUnauthorized},
		"not found":   {appErrors.NotFound("job", "x"), http.StatusNotFound},
		"conflict":    {appErrors.Conflict("claimed"), http.StatusConflict},
		"upstream":    {appErrors.Upstream("fetch", errors.New("io")), http.StatusInternalServerError},
		"foreign":     {errors.New("boom"), http.StatusInternalServerError},
		"wrapped 404": {fmt.Errorf("lookup: %w", appErrors.NotFound("job", "x")), http.StatusNotFound},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, appErrors.HTTPStatus(c.err))
		})
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := appErrors.Upstream("staging insert failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "duplicate key")
	assert.Equal(t, appErrors.KindUpstreamFailure, appErrors.KindOf(err))
}

func TestUnexpectedDoesNotReclassify(t *testing.T) {
	nf := appErrors.NotFound("job", "x")
	assert.Equal(t, appErrors.KindNotFound, appErrors.KindOf(appErrors.Unexpected(nf)))
	assert.Equal(t, appErrors.KindUnexpected, appErrors.KindOf(appErrors.Unexpected(errors.New("x"))))
	assert.Equal(t, appErrors.Kind(""), appErrors.KindOf(nil))
}
