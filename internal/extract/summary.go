package extract

var summaryStrategy = strategy{
	MetricName: {textBySelector("div.wrap_company h2")},
	MetricPrice: {
		bySelector("#_nowVal"),
		byHeaderCell("현재가"),
	},
	MetricVolume: {
		bySelector("#_quant"),
		byHeaderCell("거래량"),
	},
}
