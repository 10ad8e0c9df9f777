package importfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

// PortalResponse is the 공공데이터포털 주식시세정보 envelope (response.body.items.item[])
type PortalResponse struct {
	Response *PortalEnvelope `json:"response"`
}

// PortalEnvelope holds header and body
type PortalEnvelope struct {
	Header *PortalHeader `json:"header"`
	Body   *PortalBody   `json:"body"`
}

// PortalHeader carries the API result code ("00" = OK)
type PortalHeader struct {
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
}

// PortalBody is one page of items
type PortalBody struct {
	NumOfRows  int          `json:"numOfRows"`
	PageNo     int          `json:"pageNo"`
	TotalCount int          `json:"totalCount"`
	Items      *PortalItems `json:"items"`
}

// PortalItems wraps the item array
type PortalItems struct {
	Item []PortalItem `json:"item"`
	set  bool
}

// UnmarshalJSON accepts `""` (empty page) and a single object in place of the array
func (p *PortalItems) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte(`""`)) || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var raw struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	item := bytes.TrimSpace(raw.Item)
	if len(item) == 0 || bytes.Equal(item, []byte("null")) {
		return nil
	}

	p.set = true
	if item[0] == '{' {
		var one PortalItem
		if err := json.Unmarshal(item, &one); err != nil {
			return err
		}
		p.Item = []PortalItem{one}
		return nil
	}
	return json.Unmarshal(item, &p.Item)
}

// PortalItem is one instrument-day, every field string typed
type PortalItem struct {
	BasDt      string `json:"basDt"`      // 기준일자 (20230103)
	SrtnCd     string `json:"srtnCd"`     // 단축코드
	IsinCd     string `json:"isinCd"`     // ISIN 코드
	ItmsNm     string `json:"itmsNm"`     // 종목명
	MrktCtg    string `json:"mrktCtg"`    // 시장구분 (KOSPI/KOSDAQ/KONEX)
	Clpr       string `json:"clpr"`       // 종가
	Vs         string `json:"vs"`         // 전일대비
	FltRt      string `json:"fltRt"`      // 등락률
	Mkp        string `json:"mkp"`        // 시가
	Hipr       string `json:"hipr"`       // 고가
	Lopr       string `json:"lopr"`       // 저가
	Trqu       string `json:"trqu"`       // 거래량
	TrPrc      string `json:"trPrc"`      // 거래대금
	LstgStCnt  string `json:"lstgStCnt"`  // 상장주식수
	MrktTotAmt string `json:"mrktTotAmt"` // 시가총액
}

// Validate checks the nesting down to items.item
func (r *PortalResponse) Validate() error {
	switch {
	case r.Response == nil:
		return fmt.Errorf("missing response")
	case r.Response.Body == nil:
		return fmt.Errorf("missing response.body")
	case r.Response.Body.Items == nil:
		return fmt.Errorf("missing response.body.items")
	case !r.Response.Body.Items.set:
		return fmt.Errorf("missing response.body.items.item")
	}
	return nil
}

// Entries converts every item into an ImportEntry with a single price
func (r *PortalResponse) Entries() []contracts.ImportEntry {
	if r.Response == nil || r.Response.Body == nil || r.Response.Body.Items == nil {
		return nil
	}
	items := r.Response.Body.Items.Item
	out := make([]contracts.ImportEntry, 0, len(items))
	for i, it := range items {
		out = append(out, it.Entry(fmt.Sprintf("item[%d]", i)))
	}
	return out
}

// Entry converts one item
func (it PortalItem) Entry(source string) contracts.ImportEntry {
	return contracts.ImportEntry{
		Source:         source,
		ISIN:           strings.TrimSpace(it.IsinCd),
		Name:           strings.TrimSpace(it.ItmsNm),
		ShortCode:      strings.TrimSpace(it.SrtnCd),
		MarketCategory: strings.TrimSpace(it.MrktCtg),
		// 포털 응답에는 종목 유형이 없음: 비워 두면 기존 유형 유지, 신규는 equity
		Prices: []contracts.DailyPrice{{
			BaseDate:      parseDate(it.BasDt, contracts.BasDtLayout),
			Open:          parseDecimal(it.Mkp),
			High:          parseDecimal(it.Hipr),
			Low:           parseDecimal(it.Lopr),
			Close:         parseDecimal(it.Clpr),
			TradeQuantity: parseInt(it.Trqu),
			TradeAmount:   parseInt(it.TrPrc),
			IssuedCount:   parseInt(it.LstgStCnt),
		}},
	}
}
