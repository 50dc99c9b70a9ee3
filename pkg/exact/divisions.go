package exact

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
)

// Division is an administration the authenticated user can access.
type Division struct {
	Code         string `json:"Code"`
	Description  string `json:"Description"`
	CustomerName string `json:"CustomerName"`
}

// CurrentDivision returns the user's default division.
func (c *Client) CurrentDivision(ctx context.Context) (string, error) {
	records, err := c.Get(ctx, "/api/v1/current/Me", url.Values{"$select": {"CurrentDivision"}})
	if err != nil {
		return "", fmt.Errorf("failed to get current division: %w", err)
	}
	if len(records) == 0 {
		return "", apierror.Validationf("CurrentDivision", "current user response has no records")
	}
	division := stringValue(records[0]["CurrentDivision"])
	if division == "" {
		return "", apierror.Validationf("CurrentDivision", "current user response has no division")
	}
	return division, nil
}

// Divisions lists the divisions visible from the current division.
func (c *Client) Divisions(ctx context.Context, current string) ([]Division, error) {
	uri := fmt.Sprintf("/api/v1/%s/system/Divisions", url.PathEscape(current))
	records, err := c.Collect(ctx, uri, 0, url.Values{"$select": {"Code,Description,CustomerName"}}, CollectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list divisions: %w", err)
	}

	divisions := make([]Division, 0, len(records))
	for _, r := range records {
		divisions = append(divisions, Division{
			Code:         stringValue(r["Code"]),
			Description:  stringValue(r["Description"]),
			CustomerName: stringValue(r["CustomerName"]),
		})
	}
	return divisions, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
