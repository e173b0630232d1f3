// Package types 定義了訂單對帳系統中使用的核心領域模型
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 訂單輸入
// ============================================================================

// RawLineItem 一筆購買明細，來自市集訂單匯出，只讀
type RawLineItem struct {
	OrderID    string          `json:"order_id"`
	LineID     string          `json:"line_id,omitempty"`     // 交易 ID（同一訂單內唯一）
	ItemNumber string          `json:"item_number,omitempty"` // 市集商品編號
	SKU        string          `json:"sku"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	StoreID    string          `json:"store_id"`
	BuyerKey   string          `json:"buyer_key,omitempty"` // 買家識別（user id / email）

	// 訂單層級欄位，供篩選與分批使用
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	OrderStatus    string          `json:"order_status,omitempty"`
	CheckoutStatus string          `json:"checkout_status,omitempty"`
	PaymentStatus  string          `json:"payment_status,omitempty"`
	PaymentHold    bool            `json:"payment_hold,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	ShipBy         *time.Time      `json:"ship_by,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DispatchDays   int             `json:"dispatch_days,omitempty"`
}

// LineKey 回傳明細的唯一鍵（訂單 + 交易）。沒有交易 ID 時退回商品編號
// 與 SKU；同一訂單內完全相同的兩行仍會共用此鍵，需要區分時請另用輸入位置。
func (r RawLineItem) LineKey() string {
	switch {
	case r.LineID != "":
		return r.OrderID + "/" + r.LineID
	case r.ItemNumber != "":
		return r.OrderID + "/" + r.ItemNumber + "/" + r.SKU
	default:
		return r.OrderID + "/" + r.SKU
	}
}

// ============================================================================
// 識別碼擷取
// ============================================================================

// ExtractionMethod 描述識別碼是如何得到的
type ExtractionMethod string

const (
	MethodDirect         ExtractionMethod = "direct"          // SKU 本身即為代碼
	MethodPrefixStripped ExtractionMethod = "prefix-stripped" // 移除已知前綴後取得
	MethodRegexCase      ExtractionMethod = "regex-case"      // 由規則表第 N 條產生
	MethodSpecialMapping ExtractionMethod = "special-mapping" // 強制覆寫或數字對照表
	MethodUnresolved     ExtractionMethod = "unresolved"      // 無法辨識
)

// CanonicalIdentifier 正規化後的產品代碼
type CanonicalIdentifier struct {
	Token  string           `json:"token"`
	Method ExtractionMethod `json:"method"`
	Case   int              `json:"case,omitempty"` // 命中的規則編號（1..19），0 表示沒有規則參與
}

// MethodName 回傳方法名稱，規則表命中時為 regex-case-N
func (c CanonicalIdentifier) MethodName() string {
	if c.Method == MethodRegexCase {
		return fmt.Sprintf("regex-case-%d", c.Case)
	}
	return string(c.Method)
}

// Resolved 是否得到可信的識別碼
func (c CanonicalIdentifier) Resolved() bool {
	return c.Method != MethodUnresolved && c.Token != ""
}

// Diagnostics 擷取過程的診斷資訊
type Diagnostics struct {
	Input    string `json:"input"`
	Stripped string `json:"stripped,omitempty"`
	Rule     string `json:"rule,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ForcedMatchOverride 強制覆寫規則：符合 Pattern 的 SKU 直接對應到 Identifier
type ForcedMatchOverride struct {
	Pattern    string `json:"pattern" yaml:"pattern"`
	Identifier string `json:"identifier" yaml:"identifier"`
}

// ============================================================================
// 標題屬性與目錄
// ============================================================================

// TitleAttributes 從商品標題推導出的車輛與顏色屬性，可以全部為空
type TitleAttributes struct {
	Make           string `json:"make,omitempty"`
	Model          string `json:"model,omitempty"`
	YearRange      string `json:"year_range,omitempty"`
	Color          string `json:"color,omitempty"`
	Trim           string `json:"trim,omitempty"`
	CarpetType     string `json:"carpet_type,omitempty"`
	Embroidery     string `json:"embroidery,omitempty"`
	SpecialService bool   `json:"special_service,omitempty"` // 附後車廂墊（bootmat）
}

// Empty 是否沒有任何車輛屬性
func (a TitleAttributes) Empty() bool {
	return a.Make == "" && a.Model == "" && a.YearRange == ""
}

// CatalogEntry 目錄中的一列參考資料
type CatalogEntry struct {
	Identifier  string `json:"identifier"` // Template
	Description string `json:"description"`
	Make        string `json:"make"`
	Model       string `json:"model"`
	Year        string `json:"year"`
	Mats        string `json:"mats,omitempty"`
	ClipCount   string `json:"clip_count,omitempty"`
	ClipType    string `json:"clip_type,omitempty"`
	ForcedSKU   string `json:"forced_sku,omitempty"`
}

// MatchTier 比對信心等級
type MatchTier string

const (
	TierForced   MatchTier = "forced"
	TierExact    MatchTier = "exact"
	TierNarrowed MatchTier = "narrowed"
	TierTitle    MatchTier = "title"
	TierNone     MatchTier = "none"
)

// MatchResult 比對結果，Entry 為 nil 表示需要人工處理
type MatchResult struct {
	Entry      *CatalogEntry `json:"entry,omitempty"`
	Tier       MatchTier     `json:"tier"`
	Candidates int           `json:"candidates"`
	Reason     string        `json:"reason,omitempty"`
}

// ResolvedLineItem 對帳後的明細
type ResolvedLineItem struct {
	Item       RawLineItem         `json:"item"`
	Identifier CanonicalIdentifier `json:"identifier"`
	Attributes TitleAttributes     `json:"attributes"`
	Matched    *CatalogEntry       `json:"matched,omitempty"`
	Tier       MatchTier           `json:"tier"`
	Note       string              `json:"note,omitempty"`
}

// IsMatched 是否已對到目錄
func (r ResolvedLineItem) IsMatched() bool {
	return r.Matched != nil
}

// ============================================================================
// 分批
// ============================================================================

// BatchKind 輸出批次種類
type BatchKind string

const (
	BatchRun           BatchKind = "run"
	BatchRun24h        BatchKind = "run24h"
	BatchCourierMaster BatchKind = "courier_master"
	BatchDuplicates    BatchKind = "duplicates"
	BatchUnmatched     BatchKind = "unmatched"
)

// AllBatchKinds 依輸出順序列出所有批次種類
var AllBatchKinds = []BatchKind{BatchRun, BatchRun24h, BatchCourierMaster, BatchDuplicates, BatchUnmatched}

// Batch 一組送往同一份輸出檔的明細
type Batch struct {
	Kind    BatchKind          `json:"kind"`
	Items   []ResolvedLineItem `json:"items"`
	StoreID string             `json:"store_id,omitempty"` // 跨多個商店時為空
}

// ============================================================================
// 處理狀態
// ============================================================================

// ProcessID 背景工作唯一識別碼
type ProcessID string

// ProcessStatus 背景工作狀態
type ProcessStatus string

const (
	StatusQueued    ProcessStatus = "queued"    // 已建立，尚未被 worker 取走
	StatusRunning   ProcessStatus = "running"   // 執行中
	StatusSucceeded ProcessStatus = "succeeded" // 成功，result_handle 已設定
	StatusFailed    ProcessStatus = "failed"    // 失敗，error_summary 已設定
	StatusCancelled ProcessStatus = "cancelled" // 已取消，不產生任何檔案
)

var transitions = map[ProcessStatus][]ProcessStatus{
	StatusQueued:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// IsTerminal 是否為終止狀態
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanTransition 檢查狀態轉換是否合法，相同狀態視為合法（進度更新）
func (s ProcessStatus) CanTransition(to ProcessStatus) bool {
	if s == to {
		return !s.IsTerminal()
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ResultHandle 產出檔案的位置
type ResultHandle struct {
	Location string               `json:"location"` // 壓縮檔或物件儲存 URI
	Files    map[BatchKind]string `json:"files,omitempty"`
}

// RunSummary 工作完成後的統計
type RunSummary struct {
	Items      int               `json:"items"`
	Matched    int               `json:"matched"`
	Unmatched  int               `json:"unmatched"`
	Duplicates int               `json:"duplicates"`
	Batches    map[BatchKind]int `json:"batches,omitempty"`
}

// ProcessState 一個背景工作的持久化狀態
type ProcessState struct {
	ID           ProcessID     `json:"process_id"`
	Status       ProcessStatus `json:"status"`
	ItemsTotal   int           `json:"items_total"`
	ItemsDone    int           `json:"items_done"`
	Stage        string        `json:"stage,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	ResultHandle *ResultHandle `json:"result_handle,omitempty"`
	ErrorSummary string        `json:"error_summary,omitempty"`
	Summary      *RunSummary   `json:"summary,omitempty"`
}
