package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRequest(t *testing.T, r *http.Request) graphqlRequest {
	t.Helper()
	var req graphqlRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestListProposalsPaginates(t *testing.T) {
	var skips []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, "cvx.eth", req.Variables["space"])
		assert.Equal(t, "Gauge Weight for", req.Variables["title"])
		skip := req.Variables["skip"].(float64)
		skips = append(skips, skip)

		n := proposalPageSize
		if skip > 0 {
			n = 3
		}
		items := make([]string, n)
		for i := range n {
			items[i] = fmt.Sprintf(`{"id":"p%d","title":"Gauge Weight for Week %d","start":%d,"end":%d,"created":1,"author":"0xabc"}`,
				int(skip)+i, int(skip)+i, 1000+i, 2000+i)
		}
		fmt.Fprintf(w, `{"data":{"proposals":[%s]}}`, strings.Join(items, ","))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.ListProposals(context.Background(), "cvx.eth", "Gauge Weight for")
	require.NoError(t, err)
	assert.Len(t, got, proposalPageSize+3)
	assert.Equal(t, []float64{0, proposalPageSize}, skips)
	assert.Equal(t, "p0", got[0].ID)
	assert.Equal(t, time.Unix(1000, 0).UTC(), got[0].Start)
	assert.Equal(t, "p102", got[len(got)-1].ID)
}

func TestGetProposal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, "0xprop", req.Variables["id"])
		fmt.Fprint(w, `{"data":{"proposal":{"id":"0xprop","title":"Gauge Weight for Week of 1st Oct",
			"state":"closed","snapshot":"18200000","start":100,"end":200,
			"choices":["a","b"],"scores":[75,25],"scores_total":100,"scores_state":"final"}}}`)
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, time.Second).GetProposal(context.Background(), "0xprop")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Choices)
	assert.Equal(t, []float64{75, 25}, p.Scores)
	assert.Equal(t, ScoresFinal, p.ScoresState)
	assert.Equal(t, "18200000", p.Snapshot)
}

func TestGetProposalMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"proposal":null}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).GetProposal(context.Background(), "x")
	assert.Error(t, err)
}

func TestVotesParsesChoiceShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"votes":[
			{"voter":"0x1","vp":100,"choice":{"1":30,"3":70}},
			{"voter":"0x2","vp":50,"choice":2}
		]}}`)
	}))
	defer srv.Close()

	votes, err := NewClient(srv.URL, time.Second).Votes(context.Background(), "0xprop")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, map[int]float64{1: 30, 3: 70}, votes[0].Choice)
	assert.Equal(t, map[int]float64{2: 1}, votes[1].Choice)
	assert.Equal(t, 50.0, votes[1].VP)
}

func TestGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"rate limited"}]}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ListProposals(context.Background(), "cvx.eth", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	_, err = NewClient(bad.URL, time.Second).GetProposal(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
