// Package subgraph implements source.Ledger over the vaults' GraphQL indexer.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultPageSize is the largest page most hosted subgraphs serve.
const DefaultPageSize = 1000

// Client is a GraphQL client for the vault subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	scales     models.Scales
	pageSize   int
	httpClient *http.Client
}

var _ source.Ledger = (*Client)(nil)

// NewClient creates a new subgraph client. Raw integers in responses are
// interpreted with scales.
func NewClient(graphqlURL, apiKey string, scales models.Scales) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		scales:     scales,
		pageSize:   DefaultPageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const buyPositionsQuery = `
	query BuyPositions($owner: String!, $vaults: [String!]!, $first: Int!, $skip: Int!) {
		ssovOptionPurchases(
			first: $first
			skip: $skip
			orderBy: timestamp
			orderDirection: asc
			where: { user: $owner, ssov_in: $vaults }
		) {
			transactionHash
			ssov
			epoch
			strike
			isPut
			amount
			premium
			fee
		}
	}
`

type purchaseRow struct {
	TransactionHash string `json:"transactionHash"`
	Ssov            string `json:"ssov"`
	Epoch           string `json:"epoch"`
	Strike          string `json:"strike"`
	IsPut           bool   `json:"isPut"`
	Amount          string `json:"amount"`
	Premium         string `json:"premium"`
	Fee             string `json:"fee"`
}

// BuyPositions returns every indexed purchase of owner in vaults.
func (c *Client) BuyPositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.BuyPositionRecord, error) {
	rows, err := fetchAll[purchaseRow](ctx, c, buyPositionsQuery, "ssovOptionPurchases", owner, vaults)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch buy positions: %w", err)
	}

	out := make([]models.BuyPositionRecord, 0, len(rows))
	for _, r := range rows {
		var p parser
		rec := models.BuyPositionRecord{
			Vault:   p.address(r.Ssov),
			Epoch:   p.number(r.Epoch),
			Strike:  p.amount(r.Strike, c.scales.Strike),
			Side:    models.SideFromIsPut(r.IsPut),
			Amount:  p.amount(r.Amount, c.scales.Token),
			Premium: p.amount(r.Premium, c.scales.USD),
			Fee:     p.amount(r.Fee, c.scales.USD),
			TxHash:  r.TransactionHash,
		}
		if p.err != nil {
			return nil, fmt.Errorf("subgraph: decode purchase %s: %w", r.TransactionHash, p.err)
		}
		out = append(out, rec)
	}
	return out, nil
}

const optionBalancesQuery = `
	query OptionBalances($owner: String!, $vaults: [String!]!, $first: Int!, $skip: Int!) {
		userOptionBalances(
			first: $first
			skip: $skip
			orderBy: id
			where: { user: $owner, ssov_in: $vaults, balance_gt: "0" }
		) {
			ssov
			epoch
			strike
			isPut
			balance
			optionToken
		}
	}
`

type balanceRow struct {
	Ssov        string `json:"ssov"`
	Epoch       string `json:"epoch"`
	Strike      string `json:"strike"`
	IsPut       bool   `json:"isPut"`
	Balance     string `json:"balance"`
	OptionToken string `json:"optionToken"`
}

// OptionBalances returns owner's current option-token balances in vaults.
func (c *Client) OptionBalances(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.OptionTokenBalanceRecord, error) {
	rows, err := fetchAll[balanceRow](ctx, c, optionBalancesQuery, "userOptionBalances", owner, vaults)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch option balances: %w", err)
	}

	out := make([]models.OptionTokenBalanceRecord, 0, len(rows))
	for _, r := range rows {
		var p parser
		rec := models.OptionTokenBalanceRecord{
			Vault:       p.address(r.Ssov),
			Epoch:       p.number(r.Epoch),
			Strike:      p.amount(r.Strike, c.scales.Strike),
			Side:        models.SideFromIsPut(r.IsPut),
			Balance:     p.amount(r.Balance, c.scales.Token),
			OptionToken: p.address(r.OptionToken),
		}
		if p.err != nil {
			return nil, fmt.Errorf("subgraph: decode balance of %s: %w", r.OptionToken, p.err)
		}
		out = append(out, rec)
	}
	return out, nil
}

const writePositionsQuery = `
	query WritePositions($owner: String!, $vaults: [String!]!, $first: Int!, $skip: Int!) {
		writePositions(
			first: $first
			skip: $skip
			orderBy: id
			where: { owner: $owner, ssov_in: $vaults }
		) {
			positionId
			ssov
			epoch
			strike
			isPut
			collateral
			rewardInfo {
				token
				symbol
				rewardRate
			}
			rewardsAccrued {
				token
				symbol
				amount
				isOption
				optionSsov
				optionEpoch
				optionStrike
				optionIsPut
			}
		}
	}
`

type writeRow struct {
	PositionID string `json:"positionId"`
	Ssov       string `json:"ssov"`
	Epoch      string `json:"epoch"`
	Strike     string `json:"strike"`
	IsPut      bool   `json:"isPut"`
	Collateral string `json:"collateral"`
	RewardInfo []struct {
		Token      string `json:"token"`
		Symbol     string `json:"symbol"`
		RewardRate string `json:"rewardRate"`
	} `json:"rewardInfo"`
	RewardsAccrued []struct {
		Token        string `json:"token"`
		Symbol       string `json:"symbol"`
		Amount       string `json:"amount"`
		IsOption     bool   `json:"isOption"`
		OptionSsov   string `json:"optionSsov"`
		OptionEpoch  string `json:"optionEpoch"`
		OptionStrike string `json:"optionStrike"`
		OptionIsPut  bool   `json:"optionIsPut"`
	} `json:"rewardsAccrued"`
}

// WritePositions returns owner's write positions in vaults. Expiry and
// settlement price of option rewards are left for the chain reader.
func (c *Client) WritePositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.WriteLedgerRecord, error) {
	rows, err := fetchAll[writeRow](ctx, c, writePositionsQuery, "writePositions", owner, vaults)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch write positions: %w", err)
	}

	out := make([]models.WriteLedgerRecord, 0, len(rows))
	for _, r := range rows {
		var p parser
		rec := models.WriteLedgerRecord{
			PositionID: r.PositionID,
			Vault:      p.address(r.Ssov),
			Epoch:      p.number(r.Epoch),
			Strike:     p.amount(r.Strike, c.scales.Strike),
			Side:       models.SideFromIsPut(r.IsPut),
			Collateral: p.amount(r.Collateral, c.scales.Token),
		}
		for _, ri := range r.RewardInfo {
			rec.RewardInfo = append(rec.RewardInfo, models.RewardInfo{
				Token:      p.address(ri.Token),
				Symbol:     ri.Symbol,
				RewardRate: p.amount(ri.RewardRate, c.scales.Token),
			})
		}
		for _, ra := range r.RewardsAccrued {
			acc := models.RewardAccrual{
				Token:    p.address(ra.Token),
				Symbol:   ra.Symbol,
				Amount:   p.amount(ra.Amount, c.scales.Token),
				IsOption: ra.IsOption,
			}
			if ra.IsOption {
				acc.Option = &models.OptionRef{
					Vault:  p.address(ra.OptionSsov),
					Epoch:  p.number(ra.OptionEpoch),
					Strike: p.amount(ra.OptionStrike, c.scales.Strike),
					Side:   models.SideFromIsPut(ra.OptionIsPut),
				}
			}
			rec.RewardsAccrued = append(rec.RewardsAccrued, acc)
		}
		if p.err != nil {
			return nil, fmt.Errorf("subgraph: decode write position %s: %w", r.PositionID, p.err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// fetchAll pages through field until a short page is returned.
func fetchAll[T any](ctx context.Context, c *Client, query, field string, owner common.Address, vaults []common.Address) ([]T, error) {
	if len(vaults) == 0 {
		return nil, nil
	}
	ids := make([]string, len(vaults))
	for i, v := range vaults {
		ids[i] = strings.ToLower(v.Hex())
	}

	var all []T
	for skip := 0; ; skip += c.pageSize {
		data, err := c.doQuery(ctx, query, map[string]any{
			"owner":  strings.ToLower(owner.Hex()),
			"vaults": ids,
			"first":  c.pageSize,
			"skip":   skip,
		})
		if err != nil {
			return nil, err
		}

		var page map[string][]T
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
		rows := page[field]
		all = append(all, rows...)
		if len(rows) < c.pageSize {
			return all, nil
		}
	}
}

// doQuery executes a GraphQL query against the subgraph endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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

// parser decodes indexer string fields and keeps the first error.
type parser struct {
	err error
}

func (p *parser) address(s string) common.Address {
	if p.err == nil && !common.IsHexAddress(s) {
		p.err = fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s)
}

func (p *parser) number(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return v
}

func (p *parser) amount(s string, decimals int32) models.Amount {
	a, err := models.ParseAmount(s, decimals)
	if err != nil && p.err == nil {
		p.err = err
	}
	return a
}
