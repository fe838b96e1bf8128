package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"FestSync/internal/config"
	"FestSync/internal/interfaces"
	"FestSync/internal/quota"
	"FestSync/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Client 基于 Google Sheets API v4 的表格镜像客户端。
// 每个 HTTP 请求都在传输层向限流器取配额，一个操作可能对应多次请求。
type Client struct {
	srv           *gsheets.Service
	spreadsheetID string
	logger        *logrus.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64 // 工作表名 → sheetId，WriteRange / DeleteRow 需要
}

var (
	_ interfaces.MirrorClient  = (*Client)(nil)
	_ interfaces.QuotaGoverned = (*Client)(nil)
)

// NewClient 用服务账号凭据创建客户端，底层走 httpclient（代理/超时）
func NewClient(ctx context.Context, cfg *config.SheetsConfig, gov *quota.Governor, logger *logrus.Logger) (*Client, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("读取表格凭据失败: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(creds, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("解析表格凭据失败: %w", err)
	}
	base := httpclient.NewHTTPClient(cfg, logger)
	// 令牌请求走 base，不占表格配额
	authed := jwtCfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	authed.Timeout = base.Timeout

	return newClient(ctx, cfg.SpreadsheetID, authed, cfg.Endpoint, gov, logger)
}

func newClient(ctx context.Context, spreadsheetID string, hc *http.Client, endpoint string, gov *quota.Governor, logger *logrus.Logger) (*Client, error) {
	governed := *hc
	governed.Transport = quota.Transport(hc.Transport, gov)

	opts := []option.ClientOption{option.WithHTTPClient(&governed)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	srv, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建表格服务失败: %w", err)
	}
	return &Client{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// GovernsQuota 配额已在 HTTP 层扣除，上层不必再按操作计数
func (c *Client) GovernsQuota() bool {
	return true
}

// ReadRange 读取整张工作表（格式化后的文本）
func (c *Client) ReadRange(ctx context.Context, sheet string) ([][]string, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, quoteSheet(sheet)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, translateError("read", sheet, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		cells := make([]string, len(r))
		for j, v := range r {
			cells[j] = cast.ToString(v)
		}
		rows[i] = cells
	}
	return rows, nil
}

// WriteRange 用一次 batchUpdate 覆盖整张工作表：rows 之外的单元格一并清空。
// 请求要么整体生效要么整体失败，不会留下清空了一半的表。
func (c *Client) WriteRange(ctx context.Context, sheet string, rows [][]string) error {
	sheetID, err := c.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			UpdateCells: &gsheets.UpdateCellsRequest{
				// 不设行列边界即整张表；sheetId 为 0 时也要显式发送
				Range:  &gsheets.GridRange{SheetId: sheetID, ForceSendFields: []string{"SheetId"}},
				Rows:   toRowData(rows),
				Fields: "userEnteredValue",
			},
		}},
	}
	if _, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return translateError("write", sheet, err)
	}
	return nil
}

// AppendRow 追加到数据区末尾
func (c *Client) AppendRow(ctx context.Context, sheet string, row []string) error {
	vr := &gsheets.ValueRange{Values: interfaces.ToValueRows([][]string{row})}
	if _, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, quoteSheet(sheet)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do(); err != nil {
		return translateError("append", sheet, err)
	}
	return nil
}

// WriteRow 覆盖第 rowIndex 行
func (c *Client) WriteRow(ctx context.Context, sheet string, rowIndex int, row []string) error {
	vr := &gsheets.ValueRange{Values: interfaces.ToValueRows([][]string{row})}
	rng := fmt.Sprintf("%s!A%d", quoteSheet(sheet), rowIndex)
	if _, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return translateError("write row", sheet, err)
	}
	return nil
}

// DeleteRow 删除第 rowIndex 行（后续行上移）
func (c *Client) DeleteRow(ctx context.Context, sheet string, rowIndex int) error {
	sheetID, err := c.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			DeleteDimension: &gsheets.DeleteDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIndex - 1),
					EndIndex:   int64(rowIndex),
				},
			},
		}},
	}
	if _, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return translateError("delete row", sheet, err)
	}
	return nil
}

func (c *Client) sheetID(ctx context.Context, sheet string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[sheet]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := c.srv.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, translateError("metadata", sheet, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
		}
	}
	id, ok = c.sheetIDs[sheet]
	if !ok {
		return 0, fmt.Errorf("工作表 %s 不存在", sheet)
	}
	return id, nil
}

// toRowData 按文本写入（等同 RAW），空单元格不带值即被清空
func toRowData(rows [][]string) []*gsheets.RowData {
	out := make([]*gsheets.RowData, len(rows))
	for i, r := range rows {
		cells := make([]*gsheets.CellData, len(r))
		for j, v := range r {
			cell := &gsheets.CellData{}
			if v != "" {
				cell.UserEnteredValue = &gsheets.ExtendedValue{StringValue: &v}
			}
			cells[j] = cell
		}
		out[i] = &gsheets.RowData{Values: cells}
	}
	return out
}

// translateError 把 429 / rateLimitExceeded 统一包装成 quota.ErrRateLimited
func translateError(op, sheet string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && isRateLimited(gerr) {
		return fmt.Errorf("sheets %s %s: %w: %v", op, sheet, quota.ErrRateLimited, err)
	}
	return fmt.Errorf("sheets %s %s: %w", op, sheet, err)
}

func isRateLimited(gerr *googleapi.Error) bool {
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if gerr.Code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

func quoteSheet(sheet string) string {
	return "'" + sheet + "'"
}
