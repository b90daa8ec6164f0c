package domain

import "sort"

// StockUnit — вариант товара (SKU) со своим остатком и ценой.
type StockUnit struct {
	ID          int64
	ProductID   int64
	ProductName string
	Name        string
	Price       int64
	Stock       int64
}

// StockRequest — запрос на списание quantity единиц SKU.
type StockRequest struct {
	SKUID    int64
	Quantity int64
}

// NormalizeStockRequests проверяет позиции, объединяет повторы одного SKU
// и сортирует результат по SKUID по возрастанию.
//
// Порядок по возрастанию SKUID — единый глобальный порядок захвата блокировок.
func NormalizeStockRequests(items []StockRequest) ([]StockRequest, error) {
	if len(items) == 0 {
		return nil, ErrItemsRequired
	}

	merged := make(map[int64]int64, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		merged[item.SKUID] += item.Quantity
	}

	result := make([]StockRequest, 0, len(merged))
	for id, qty := range merged {
		result = append(result, StockRequest{SKUID: id, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKUID < result[j].SKUID })

	return result, nil
}

// SKUIDs возвращает идентификаторы SKU в порядке запросов.
func SKUIDs(items []StockRequest) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.SKUID)
	}
	return ids
}
