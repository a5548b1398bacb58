package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

func TestReportPostsSlackMessage(t *testing.T) {
	t.Parallel()

	var got message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL, Channel: "#prices"}, srv.Client())
	require.NoError(t, err)
	err = n.Report(context.Background(), crawler.Report{
		Text:        "A hash crawler *tapm (#1)* :flag-tw: has processed *10* prices",
		Title:       "tapm",
		TitleLink:   "http://www.tapmc.com.taipei",
		Description: "Taipei Agricultural Products Marketing",
		Fields:      []crawler.Field{{Title: "Country", Value: ":flag-tw:", Short: true}},
	})
	require.NoError(t, err)

	assert.Equal(t, "#prices", got.Channel)
	assert.Contains(t, got.Text, "*10* prices")
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "tapm", got.Attachments[0].Title)
	assert.Equal(t, "Taipei Agricultural Products Marketing", got.Attachments[0].Text)
	assert.Equal(t, ":flag-tw:", got.Attachments[0].Fields[0].Value)
}

func TestReportFailsOnErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)
	err = n.Report(context.Background(), crawler.Report{Text: "x"})
	require.ErrorContains(t, err, "status 403: invalid_token")
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
