// Package snapshot is a client for the Snapshot governance GraphQL hub.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultURL is the public Snapshot hub.
const DefaultURL = "https://hub.snapshot.org/graphql"

const (
	proposalPageSize = 100
	votePageSize     = 1000
)

// Client queries the Snapshot hub.
type Client struct {
	graphqlURL string
	httpClient *http.Client
}

// NewClient creates a Snapshot client for graphqlURL.
func NewClient(graphqlURL string, timeout time.Duration) *Client {
	if graphqlURL == "" {
		graphqlURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ProposalSummary is one entry of the proposal list.
type ProposalSummary struct {
	ID      string
	Title   string
	Author  string
	Start   time.Time
	End     time.Time
	Created time.Time
}

// Proposal is the full detail of one proposal.
type Proposal struct {
	ID          string
	Title       string
	Author      string
	State       string
	Snapshot    string
	Start       time.Time
	End         time.Time
	Choices     []string
	Scores      []float64
	ScoresState string
}

// ScoresFinal is the scores_state of a proposal whose aggregate will not change.
const ScoresFinal = "final"

// Vote is one voter's ballot. Choice maps 1-based choice indices to relative
// weights.
type Vote struct {
	Voter  string
	VP     float64
	Choice map[int]float64
}

type proposalJSON struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	State       string    `json:"state"`
	Snapshot    string    `json:"snapshot"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	Created     int64     `json:"created"`
	Choices     []string  `json:"choices"`
	Scores      []float64 `json:"scores"`
	ScoresState string    `json:"scores_state"`
}

const listProposalsQuery = `
	query Proposals($first: Int!, $skip: Int!, $space: String!, $title: String!) {
		proposals(
			first: $first
			skip: $skip
			where: { space_in: [$space], title_contains: $title }
			orderBy: "created"
			orderDirection: asc
		) {
			id
			title
			start
			end
			created
			author
		}
	}
`

// ListProposals returns every proposal of space whose title contains
// titleContains, oldest first.
func (c *Client) ListProposals(ctx context.Context, space, titleContains string) ([]ProposalSummary, error) {
	var out []ProposalSummary
	for skip := 0; ; skip += proposalPageSize {
		data, err := c.doQuery(ctx, listProposalsQuery, map[string]any{
			"first": proposalPageSize,
			"skip":  skip,
			"space": space,
			"title": titleContains,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot: list proposals: %w", err)
		}
		var result struct {
			Proposals []proposalJSON `json:"proposals"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("snapshot: decode proposals: %w", err)
		}
		for _, p := range result.Proposals {
			out = append(out, ProposalSummary{
				ID:      p.ID,
				Title:   p.Title,
				Author:  p.Author,
				Start:   time.Unix(p.Start, 0).UTC(),
				End:     time.Unix(p.End, 0).UTC(),
				Created: time.Unix(p.Created, 0).UTC(),
			})
		}
		if len(result.Proposals) < proposalPageSize {
			return out, nil
		}
	}
}

const proposalQuery = `
	query Proposal($id: String!) {
		proposal(id: $id) {
			id
			title
			author
			state
			snapshot
			start
			end
			created
			choices
			scores
			scores_state
		}
	}
`

// GetProposal returns one proposal with its choices and aggregated scores.
func (c *Client) GetProposal(ctx context.Context, id string) (Proposal, error) {
	data, err := c.doQuery(ctx, proposalQuery, map[string]any{"id": id})
	if err != nil {
		return Proposal{}, fmt.Errorf("snapshot: get proposal %s: %w", id, err)
	}
	var result struct {
		Proposal *proposalJSON `json:"proposal"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return Proposal{}, fmt.Errorf("snapshot: decode proposal %s: %w", id, err)
	}
	if result.Proposal == nil {
		return Proposal{}, fmt.Errorf("snapshot: proposal %s not found", id)
	}
	p := result.Proposal
	return Proposal{
		ID:          p.ID,
		Title:       p.Title,
		Author:      p.Author,
		State:       p.State,
		Snapshot:    p.Snapshot,
		Start:       time.Unix(p.Start, 0).UTC(),
		End:         time.Unix(p.End, 0).UTC(),
		Choices:     p.Choices,
		Scores:      p.Scores,
		ScoresState: p.ScoresState,
	}, nil
}

const votesQuery = `
	query Votes($id: String!, $first: Int!, $skip: Int!) {
		votes(
			first: $first
			skip: $skip
			where: { proposal: $id }
			orderBy: "created"
			orderDirection: asc
		) {
			voter
			vp
			choice
		}
	}
`

// Votes returns every ballot cast on proposal id.
func (c *Client) Votes(ctx context.Context, id string) ([]Vote, error) {
	var out []Vote
	for skip := 0; ; skip += votePageSize {
		data, err := c.doQuery(ctx, votesQuery, map[string]any{
			"id":    id,
			"first": votePageSize,
			"skip":  skip,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot: votes %s: %w", id, err)
		}
		var result struct {
			Votes []struct {
				Voter  string          `json:"voter"`
				VP     float64         `json:"vp"`
				Choice json.RawMessage `json:"choice"`
			} `json:"votes"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("snapshot: decode votes %s: %w", id, err)
		}
		for _, v := range result.Votes {
			choice, err := parseChoice(v.Choice)
			if err != nil {
				return nil, fmt.Errorf("snapshot: vote by %s: %w", v.Voter, err)
			}
			out = append(out, Vote{Voter: v.Voter, VP: v.VP, Choice: choice})
		}
		if len(result.Votes) < votePageSize {
			return out, nil
		}
	}
}

// parseChoice accepts the weighted form {"1": 30, "4": 70} as well as a bare
// single-choice index.
func parseChoice(raw json.RawMessage) (map[int]float64, error) {
	var weighted map[string]float64
	if err := json.Unmarshal(raw, &weighted); err == nil {
		out := make(map[int]float64, len(weighted))
		for k, w := range weighted {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("choice key %q: %w", k, err)
			}
			out[idx] = w
		}
		return out, nil
	}
	var single int
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("unsupported choice %s", string(raw))
	}
	return map[int]float64{single: 1}, nil
}

func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
