package accountno

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Prefix 對外帳號前綴
const Prefix = "ACC"

// Generator 以 snowflake 產生對外帳號，格式 ACC + snowflake ID
// 同一節點內遞增且不重複；多節點部署需設定不同的 node
type Generator struct {
	node *snowflake.Node
}

// NewGenerator 建立帳號產生器
//
// 參數:
//
//	node: 節點編號 (0 ~ 1023)
//
// 回傳:
//
//	*Generator: 產生器
//	error: 節點編號超出範圍
func NewGenerator(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

// Next 產生下一個帳號
func (g *Generator) Next() string {
	return Prefix + g.node.Generate().String()
}
