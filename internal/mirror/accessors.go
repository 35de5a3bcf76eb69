package mirror

import (
	"time"

	"pos-offline-core/internal/store"
)

func (m *Mirror) CacheReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CacheReady
}

func (m *Mirror) CacheVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CacheVersion
}

func (m *Mirror) LastSyncTotals() SyncTotals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LastSyncTotals
}

func (m *Mirror) SetLastSyncTotals(t SyncTotals) error {
	return m.update(func(s *state) error {
		s.LastSyncTotals = t
		return nil
	}, LastSyncTotals)
}

func (m *Mirror) ManualOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ManualOffline
}

func (m *Mirror) SetManualOffline(v bool) error {
	return m.update(func(s *state) error {
		s.ManualOffline = v
		return nil
	}, ManualOffline)
}

func (m *Mirror) TaxInclusive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TaxInclusive
}

func (m *Mirror) SetTaxInclusive(v bool) error {
	return m.update(func(s *state) error {
		s.TaxInclusive = v
		return nil
	}, TaxInclusive)
}

func (m *Mirror) PrintTemplate() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.PrintTemplate
}

func (m *Mirror) SetPrintTemplate(v string) error {
	return m.update(func(s *state) error {
		s.PrintTemplate = v
		return nil
	}, PrintTemplate)
}

func (m *Mirror) TermsAndConditions() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TermsAndConditions
}

func (m *Mirror) SetTermsAndConditions(v string) error {
	return m.update(func(s *state) error {
		s.TermsAndConditions = v
		return nil
	}, TermsAndConditions)
}

// OpeningStorage returns the POS opening data, or nil before the shift is
// opened.
func (m *Mirror) OpeningStorage() Document {
	return read(m, func(s *state) Document { return s.OpeningStorage })
}

func (m *Mirror) SetOpeningStorage(doc Document) error {
	cp, err := cloneIn(OpeningStorage, doc)
	if err != nil {
		return err
	}
	return m.update(func(s *state) error {
		s.OpeningStorage = cp
		return nil
	}, OpeningStorage)
}

func (m *Mirror) OpeningDialog() Document {
	return read(m, func(s *state) Document { return s.OpeningDialog })
}

func (m *Mirror) SetOpeningDialog(doc Document) error {
	cp, err := cloneIn(OpeningDialog, doc)
	if err != nil {
		return err
	}
	return m.update(func(s *state) error {
		s.OpeningDialog = cp
		return nil
	}, OpeningDialog)
}

func (m *Mirror) SalesPersons() []Document {
	return read(m, func(s *state) []Document { return s.SalesPersons })
}

func (m *Mirror) SetSalesPersons(list []Document) error {
	cp, err := cloneIn(SalesPersons, list)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = []Document{}
	}
	return m.update(func(s *state) error {
		s.SalesPersons = cp
		return nil
	}, SalesPersons)
}

func (m *Mirror) Offers() []Document {
	return read(m, func(s *state) []Document { return s.OffersCache })
}

func (m *Mirror) SetOffers(list []Document) error {
	cp, err := cloneIn(OffersCache, list)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = []Document{}
	}
	return m.update(func(s *state) error {
		s.OffersCache = cp
		return nil
	}, OffersCache)
}

func (m *Mirror) ItemUOMs(itemCode string) []store.ItemUOM {
	return read(m, func(s *state) []store.ItemUOM { return s.UOMCache[itemCode] })
}

func (m *Mirror) SetItemUOMs(itemCode string, uoms []store.ItemUOM) error {
	cp := append([]store.ItemUOM(nil), uoms...)
	return m.update(func(s *state) error {
		if s.UOMCache == nil {
			s.UOMCache = map[string][]store.ItemUOM{}
		}
		s.UOMCache[itemCode] = cp
		return nil
	}, UOMCache)
}

// CustomerBalance returns the cached balance of customer, if any.
func (m *Mirror) CustomerBalance(customer string) (CustomerBalance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.st.CustomerBalanceCache[customer]
	return b, ok
}

func (m *Mirror) SetCustomerBalance(customer string, b CustomerBalance) error {
	if b.Timestamp.IsZero() {
		b.Timestamp = m.now()
	}
	return m.update(func(s *state) error {
		if s.CustomerBalanceCache == nil {
			s.CustomerBalanceCache = map[string]CustomerBalance{}
		}
		s.CustomerBalanceCache[customer] = b
		return nil
	}, CustomerBalanceCache)
}

// ClearExpiredBalances drops balances older than ttl and returns how many
// were removed.
func (m *Mirror) ClearExpiredBalances(ttl time.Duration) (int, error) {
	removed := 0
	err := m.update(func(s *state) error {
		cutoff := m.now().Add(-ttl)
		for k, b := range s.CustomerBalanceCache {
			if b.Timestamp.Before(cutoff) {
				delete(s.CustomerBalanceCache, k)
				removed++
			}
		}
		return nil
	}, CustomerBalanceCache)
	return removed, err
}

func (m *Mirror) TaxTemplate(name string) (Document, bool) {
	doc := read(m, func(s *state) Document { return s.TaxTemplateCache[name] })
	return doc, doc != nil
}

func (m *Mirror) SetTaxTemplate(name string, doc Document) error {
	cp, err := cloneIn(TaxTemplateCache, doc)
	if err != nil {
		return err
	}
	return m.update(func(s *state) error {
		if s.TaxTemplateCache == nil {
			s.TaxTemplateCache = map[string]Document{}
		}
		s.TaxTemplateCache[name] = cp
		return nil
	}, TaxTemplateCache)
}

func (m *Mirror) Translations(lang string) map[string]string {
	return read(m, func(s *state) map[string]string { return s.TranslationCache[lang] })
}

func (m *Mirror) SetTranslations(lang string, messages map[string]string) error {
	cp := make(map[string]string, len(messages))
	for k, v := range messages {
		cp[k] = v
	}
	return m.update(func(s *state) error {
		if s.TranslationCache == nil {
			s.TranslationCache = map[string]map[string]string{}
		}
		s.TranslationCache[lang] = cp
		return nil
	}, TranslationCache)
}

func (m *Mirror) Coupons(customer string) Document {
	return read(m, func(s *state) Document { return s.CouponsCache[customer] })
}

func (m *Mirror) SetCoupons(customer string, doc Document) error {
	cp, err := cloneIn(CouponsCache, doc)
	if err != nil {
		return err
	}
	return m.update(func(s *state) error {
		if s.CouponsCache == nil {
			s.CouponsCache = map[string]Document{}
		}
		s.CouponsCache[customer] = cp
		return nil
	}, CouponsCache)
}

func (m *Mirror) ItemGroups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.st.ItemGroupsCache...)
}

func (m *Mirror) SetItemGroups(groups []string) error {
	cp := append([]string{}, groups...)
	return m.update(func(s *state) error {
		s.ItemGroupsCache = cp
		return nil
	}, ItemGroupsCache)
}

// ItemsLastSync returns when the item catalog was last refreshed.
func (m *Mirror) ItemsLastSync() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.st.ItemsLastSync == nil {
		return time.Time{}, false
	}
	return *m.st.ItemsLastSync, true
}

func (m *Mirror) SetItemsLastSync(t time.Time) error {
	return m.update(func(s *state) error {
		s.ItemsLastSync = &t
		return nil
	}, ItemsLastSync)
}

func (m *Mirror) CustomersLastSync() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.st.CustomersLastSync == nil {
		return time.Time{}, false
	}
	return *m.st.CustomersLastSync, true
}

func (m *Mirror) SetCustomersLastSync(t time.Time) error {
	return m.update(func(s *state) error {
		s.CustomersLastSync = &t
		return nil
	}, CustomersLastSync)
}

// ToggleManualOffline flips the manual offline flag and returns the new value.
func (m *Mirror) ToggleManualOffline() (bool, error) {
	var v bool
	err := m.update(func(s *state) error {
		s.ManualOffline = !s.ManualOffline
		v = s.ManualOffline
		return nil
	}, ManualOffline)
	return v, err
}

func (m *Mirror) ClearOpeningStorage() error {
	return m.update(func(s *state) error {
		s.OpeningStorage = nil
		return nil
	}, OpeningStorage)
}

func (m *Mirror) ClearCoupons(customer string) error {
	return m.update(func(s *state) error {
		if customer == "" {
			s.CouponsCache = map[string]Document{}
		} else {
			delete(s.CouponsCache, customer)
		}
		return nil
	}, CouponsCache)
}

func (m *Mirror) ClearCustomerBalances() error {
	return m.update(func(s *state) error {
		s.CustomerBalanceCache = map[string]CustomerBalance{}
		return nil
	}, CustomerBalanceCache)
}

func (m *Mirror) DeleteCustomerBalance(customer string) error {
	return m.update(func(s *state) error {
		delete(s.CustomerBalanceCache, customer)
		return nil
	}, CustomerBalanceCache)
}
