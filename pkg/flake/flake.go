package flake

import (
	"hash/adler32"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// NODE with id 0 is reserved for global resources like definitions shared
// across all the partitions.

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	stepMask  int64 = -1 ^ (-1 << StepBits)
	timeShift       = NodeBits + StepBits
	nodeShift       = StepBits
)

var (
	globalGenerator *snowflake.Node
	globalOnce      sync.Once
)

// Generator returns the process-wide ID generator.
// constraints: see also NewGenerator
func Generator() *snowflake.Node {
	globalOnce.Do(func() {
		globalGenerator = NewGenerator()
	})
	return globalGenerator
}

// NewGenerator creates a new ID generator,
// constraints: creating two new instances within a few microseconds, will create generators with the same seed
func NewGenerator() *snowflake.Node {
	hash32 := adler32.New()
	for _, e := range os.Environ() {
		hash32.Sum([]byte(e))
	}
	node, err := snowflake.NewNode(int64(hash32.Sum32()) & nodeMax)
	if err != nil {
		panic("can't initialize snowflake ID generator. Message: " + err.Error())
	}
	return node
}

func GetPartitionMask() int64 {
	return nodeMask
}

func GetPartitionId(id int64) uint32 {
	maskedId := id & GetPartitionMask()
	nodeId := maskedId >> int64(nodeShift)
	return uint32(nodeId)
}
