package store

import (
	"fmt"
	"strings"
)

// Table names one logical table of the durable store.
type Table string

const (
	KeyVal     Table = "keyval"
	Queue      Table = "queue"
	Cache      Table = "cache"
	Items      Table = "items"
	ItemPrices Table = "item_prices"
	Customers  Table = "customers"
)

// Tables lists every table in schema order.
var Tables = []Table{KeyVal, Queue, Cache, Items, ItemPrices, Customers}

// DerivedTables hold data that can be fetched again from the backend. They
// are wiped when the cache version changes; Queue and KeyVal are not.
var DerivedTables = []Table{Cache, Items, ItemPrices, Customers}

// indexes declares the secondary indexes of each table.
var indexes = map[Table][]string{
	Items:      {"item_code", "item_name", "item_group", "barcodes", "name_keywords", "serials", "batches"},
	ItemPrices: {"price_list", "item_code"},
	Customers:  {"customer_name", "mobile_no", "email_id", "tax_id"},
}

// Indexes returns the secondary index names of t.
func (t Table) Indexes() []string {
	return indexes[t]
}

func (t Table) HasIndex(name string) bool {
	for _, n := range indexes[t] {
		if n == name {
			return true
		}
	}
	return false
}

func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// Key layout:
//
//	m/<name>                             metadata
//	t/<table>/<pk>                       primary record
//	x/<table>/<pk>                       index values written for the record
//	i/<table>/<index>/<value>\x00<pk>    secondary index entry
const indexSep = "\x00"

var metaSchemaKey = []byte("m/schema_version")

func tablePrefix(t Table) []byte { return []byte("t/" + string(t) + "/") }
func indexRecPrefix(t Table) []byte {
	return []byte("x/" + string(t) + "/")
}
func indexTablePrefix(t Table) []byte { return []byte("i/" + string(t) + "/") }

func primaryKey(t Table, pk string) []byte {
	return append(tablePrefix(t), pk...)
}

func indexRecKey(t Table, pk string) []byte {
	return append(indexRecPrefix(t), pk...)
}

func indexPrefix(t Table, index, value string, prefix bool) []byte {
	k := fmt.Sprintf("i/%s/%s/%s", t, index, normalizeIndexValue(value))
	if !prefix {
		k += indexSep
	}
	return []byte(k)
}

func indexKey(t Table, index, value, pk string) []byte {
	return []byte(fmt.Sprintf("i/%s/%s/%s%s%s", t, index, normalizeIndexValue(value), indexSep, pk))
}

// pkFromIndexKey returns the primary key encoded at the tail of an index key.
func pkFromIndexKey(k []byte) string {
	s := string(k)
	i := strings.LastIndex(s, indexSep)
	if i < 0 {
		return ""
	}
	return s[i+1:]
}

// Index lookups are case-insensitive.
func normalizeIndexValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
