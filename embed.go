package marketintel

import (
	_ "embed"
)

// SymbolMapJSON 内置的代码映射文件
//
//go:embed data/symbol_map.json
var SymbolMapJSON []byte
