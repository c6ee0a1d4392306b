package pooling_test

import (
	"fmt"

	"github.com/crimson-sun/pooling/pkg/pooling"
)

func ExampleReduceMean() {
	hidden := pooling.Tensor{
		Shape: []int{1, 3, 2},
		Data:  []float32{1, 1, 2, 2, 3, 3},
	}
	mask, _ := pooling.NewMask([][]int64{{1, 1, 0}})

	out, err := pooling.ReduceMean(hidden, mask)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(out.Rows())
	// Output: [[1.5 1.5]]
}

func ExampleReduceCLS() {
	hidden := pooling.Tensor{Shape: []int{1, 3}, Data: []float32{4, 5, 6}}
	_, err := pooling.ReduceCLS(pooling.Tensor{Shape: []int{3}, Data: []float32{4, 5, 6}})
	fmt.Println(err)

	out, _ := pooling.ReduceCLS(hidden)
	fmt.Println(out.Dims(), out.Row(0))
	// Output:
	// pooling: invalid shape [3]: expected 2D or 3D tensor
	// [1 3] [4 5 6]
}
