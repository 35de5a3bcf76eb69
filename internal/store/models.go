package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is anything stored under a primary key.
type Record interface {
	PrimaryKey() string
}

// Indexed records expose the values of their secondary indexes.
type Indexed interface {
	Record
	IndexValues() map[string][]string
}

// Entry is the record shape of the keyval, queue and cache tables.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (e Entry) PrimaryKey() string { return e.Key }

// RawRecord is a fully serialized record. It is what crosses the persistence
// channel, so it must never share memory with caller-owned values.
type RawRecord struct {
	Key     string              `json:"key"`
	Indexes map[string][]string `json:"indexes,omitempty"`
	Body    json.RawMessage     `json:"body"`
}

func (r RawRecord) PrimaryKey() string               { return r.Key }
func (r RawRecord) IndexValues() map[string][]string { return r.Indexes }
func (r RawRecord) Decode(out interface{}) error     { return json.Unmarshal(r.Body, out) }

// Raw snapshots rec into a RawRecord.
func Raw(rec Record) (RawRecord, error) {
	if raw, ok := rec.(RawRecord); ok {
		return raw.clone(), nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return RawRecord{}, fmt.Errorf("encode record %q: %w", rec.PrimaryKey(), err)
	}
	out := RawRecord{Key: rec.PrimaryKey(), Body: body}
	if ix, ok := rec.(Indexed); ok {
		out.Indexes = cloneIndexValues(ix.IndexValues())
	}
	return out, nil
}

func (r RawRecord) clone() RawRecord {
	return RawRecord{
		Key:     r.Key,
		Indexes: cloneIndexValues(r.Indexes),
		Body:    append(json.RawMessage(nil), r.Body...),
	}
}

func cloneIndexValues(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Barcode is one entry of an item's barcode list.
type Barcode struct {
	Barcode string `json:"barcode"`
	UOM     string `json:"uom,omitempty"`
}

// BarcodeList accepts either a list of barcode objects or a single scalar
// barcode, which older catalog payloads send.
type BarcodeList []Barcode

func (b *BarcodeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	if data[0] == '[' {
		var list []Barcode
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*b = list
		return nil
	}
	var scalar interface{}
	if err := json.Unmarshal(data, &scalar); err != nil {
		return err
	}
	s := strings.TrimSpace(fmt.Sprint(scalar))
	if s == "" {
		*b = nil
		return nil
	}
	*b = BarcodeList{{Barcode: s}}
	return nil
}

type SerialNo struct {
	SerialNo  string `json:"serial_no"`
	Warehouse string `json:"warehouse,omitempty"`
}

type BatchNo struct {
	BatchNo    string          `json:"batch_no"`
	BatchQty   decimal.Decimal `json:"batch_qty"`
	ExpiryDate string          `json:"expiry_date,omitempty"`
}

type ItemUOM struct {
	UOM              string          `json:"uom"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
}

// Item is a catalog row of the items table.
type Item struct {
	ItemCode      string          `json:"item_code"`
	ItemName      string          `json:"item_name"`
	Description   string          `json:"description,omitempty"`
	ItemGroup     string          `json:"item_group,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	StockUOM      string          `json:"stock_uom,omitempty"`
	Image         string          `json:"image,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	PriceListRate decimal.Decimal `json:"price_list_rate"`
	Currency      string          `json:"currency,omitempty"`
	ActualQty     decimal.Decimal `json:"actual_qty"`
	HasBatchNo    bool            `json:"has_batch_no,omitempty"`
	HasSerialNo   bool            `json:"has_serial_no,omitempty"`
	HasVariants   bool            `json:"has_variants,omitempty"`
	ItemBarcode   BarcodeList     `json:"item_barcode,omitempty"`
	ItemUOMs      []ItemUOM       `json:"item_uoms,omitempty"`
	SerialNoData  []SerialNo      `json:"serial_no_data,omitempty"`
	BatchNoData   []BatchNo       `json:"batch_no_data,omitempty"`
	Attributes    []string        `json:"attributes,omitempty"`

	// Derived fields, recomputed by DeriveIndexFields.
	Barcodes     []string `json:"barcodes"`
	NameKeywords []string `json:"name_keywords"`
	Serials      []string `json:"serials"`
	Batches      []string `json:"batches"`
}

func (it Item) PrimaryKey() string { return it.ItemCode }

func (it Item) IndexValues() map[string][]string {
	return map[string][]string{
		"item_code":     nonEmpty(it.ItemCode),
		"item_name":     nonEmpty(it.ItemName),
		"item_group":    nonEmpty(it.ItemGroup),
		"barcodes":      it.Barcodes,
		"name_keywords": it.NameKeywords,
		"serials":       it.Serials,
		"batches":       it.Batches,
	}
}

// DeriveIndexFields flattens barcodes, serials and batches and tokenizes the
// item name. It is idempotent.
func (it *Item) DeriveIndexFields() {
	it.Barcodes = make([]string, 0)
	for _, b := range it.ItemBarcode {
		if b.Barcode != "" {
			it.Barcodes = append(it.Barcodes, b.Barcode)
		}
	}
	it.NameKeywords = strings.Fields(strings.ToLower(it.ItemName))
	if it.NameKeywords == nil {
		it.NameKeywords = []string{}
	}
	it.Serials = make([]string, 0)
	for _, s := range it.SerialNoData {
		if s.SerialNo != "" {
			it.Serials = append(it.Serials, s.SerialNo)
		}
	}
	it.Batches = make([]string, 0)
	for _, b := range it.BatchNoData {
		if b.BatchNo != "" {
			it.Batches = append(it.Batches, b.BatchNo)
		}
	}
}

// ItemPrice is a price-list row, keyed by (price list, item code).
type ItemPrice struct {
	PriceList     string          `json:"price_list"`
	ItemCode      string          `json:"item_code"`
	Rate          decimal.Decimal `json:"rate"`
	PriceListRate decimal.Decimal `json:"price_list_rate"`
	Currency      string          `json:"currency,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ItemPriceKey is the compound primary key of the item_prices table.
func ItemPriceKey(priceList, itemCode string) string {
	return priceList + "\x1f" + itemCode
}

func (p ItemPrice) PrimaryKey() string { return ItemPriceKey(p.PriceList, p.ItemCode) }

func (p ItemPrice) IndexValues() map[string][]string {
	return map[string][]string{
		"price_list": nonEmpty(p.PriceList),
		"item_code":  nonEmpty(p.ItemCode),
	}
}

// Customer is a row of the customers table.
type Customer struct {
	Name           string `json:"name"`
	CustomerName   string `json:"customer_name"`
	MobileNo       string `json:"mobile_no,omitempty"`
	EmailID        string `json:"email_id,omitempty"`
	TaxID          string `json:"tax_id,omitempty"`
	PrimaryAddress string `json:"primary_address,omitempty"`
}

func (c Customer) PrimaryKey() string { return c.Name }

func (c Customer) IndexValues() map[string][]string {
	return map[string][]string{
		"customer_name": nonEmpty(c.CustomerName),
		"mobile_no":     nonEmpty(c.MobileNo),
		"email_id":      nonEmpty(c.EmailID),
		"tax_id":        nonEmpty(c.TaxID),
	}
}

func nonEmpty(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return []string{v}
}
