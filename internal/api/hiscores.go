// Package api holds the hiscores HTTP client. The hiscores endpoint serves
// plain CSV: one "rank,level,experience" line per skill followed by one
// "rank,score" line per boss, in a fixed order.
package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"runetrack/internal/constants"
	"runetrack/internal/domain"

	"github.com/valyala/fasthttp"
)

type HiscoresClient struct {
	baseURL string
	client  *fasthttp.Client
}

func NewHiscoresClient(baseURL string) *HiscoresClient {
	return &HiscoresClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// FetchStats fetches the current hiscores rows for a username. A 404 maps
// to ErrHiscoresNotFound; transport failures and 5xx responses map to
// ErrHiscoresUnavailable.
func (c *HiscoresClient) FetchStats(ctx context.Context, username string) (domain.SnapshotData, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/index_lite.ws?player=%s", c.baseURL, url.QueryEscape(username)))
	req.Header.SetMethod(fasthttp.MethodGet)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHiscoresUnavailable, err)
	}

	switch {
	case resp.StatusCode() == fasthttp.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", domain.ErrHiscoresNotFound, username)
	case resp.StatusCode() != fasthttp.StatusOK:
		return nil, fmt.Errorf("%w: status %d", domain.ErrHiscoresUnavailable, resp.StatusCode())
	}

	return ParseStats(resp.Body())
}

// ParseStats decodes the raw hiscores CSV body into snapshot data. Shorter
// bodies (older hiscores revisions) are tolerated; missing metrics are
// recorded as unranked.
func ParseStats(body []byte) (domain.SnapshotData, error) {
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < len(domain.Skills) {
		return nil, fmt.Errorf("%w: malformed body (%d lines)", domain.ErrHiscoresUnavailable, len(lines))
	}

	data := make(domain.SnapshotData, len(domain.Skills)+len(domain.Bosses))

	for i, metric := range domain.Skills {
		rank, value, err := parseLine(lines[i], true)
		if err != nil {
			return nil, fmt.Errorf("%w: skill line %d: %v", domain.ErrHiscoresUnavailable, i, err)
		}
		data[metric] = domain.MetricValue{Rank: rank, Value: value}
	}

	offset := len(domain.Skills)
	for i, metric := range domain.Bosses {
		if offset+i >= len(lines) {
			data[metric] = domain.MetricValue{Rank: -1, Value: -1}
			continue
		}
		rank, value, err := parseLine(lines[offset+i], false)
		if err != nil {
			return nil, fmt.Errorf("%w: boss line %d: %v", domain.ErrHiscoresUnavailable, i, err)
		}
		data[metric] = domain.MetricValue{Rank: rank, Value: value}
	}

	return data, nil
}

// parseLine decodes one CSV line. Skill lines are "rank,level,experience";
// boss lines are "rank,score". The middle level field is ignored, levels
// are recomputed from experience.
func parseLine(line string, skill bool) (rank int, value int64, err error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	want := 2
	if skill {
		want = 3
	}
	if len(fields) != want {
		return 0, 0, fmt.Errorf("expected %d fields, got %d", want, len(fields))
	}

	rank, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing rank: %v", err)
	}
	value, err = strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing value: %v", err)
	}
	return rank, value, nil
}
