package routing

import "swap-router/internal/order"

// Selection 是一次选路的结果。
type Selection struct {
	Best        order.Quote
	ChosenIndex int
	NetOuts     []float64
}

// SelectBest 按净产出 amountIn·quoteVal·(1−fee) 选出最优报价。
// 纯函数：无 I/O、无随机性，相同输入必得相同输出。
// 净产出相同的情况下，配置顺序靠前的来源胜出（后来者必须严格更大才能取代）。
func SelectBest(ord *order.Order, quotes []order.Quote) Selection {
	netOuts := make([]float64, len(quotes))
	bestIdx := 0

	for i, quote := range quotes {
		netOuts[i] = quote.NetOut(ord.AmountIn)
		if netOuts[i] > netOuts[bestIdx] {
			bestIdx = i
		}
	}

	return Selection{
		Best:        quotes[bestIdx],
		ChosenIndex: bestIdx,
		NetOuts:     netOuts,
	}
}
