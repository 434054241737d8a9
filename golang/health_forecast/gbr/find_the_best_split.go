package gbr

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

//BestSplit contains results of the split selection algorithm.
type BestSplit struct {
	bestValue, currentValue          float64
	featureIndex, orderIndex         int
	threshold                        float64
	deltaUp, deltaDown, deltaCurrent float64
	validSplit                       bool
	numberOfObjects                  int
}

//OneStepInfo contains information about the algorithm state after passing a cluster of equal values
//of a feature.
type OneStepInfo struct {
	deltaLoss    float64
	deltaWeight  float64
	count        int
	InterFeature float64
}

//IterateSplits visits rows in the given order, accumulates gradient and hessian and emits the
//Newton weight and loss at every border between clusters of equal column values. The statistics
//of all visited rows are returned as total.
func IterateSplits(
	rows []int,
	column []float64,
	der1, der2 []float64,
	regLambda float64,
) (passInfo []OneStepInfo, total OneStepInfo) {
	accumGrad, accumHess := 0.0, 0.0
	for step, row := range rows {
		accumGrad += der1[row]
		accumHess += der2[row]
		value := column[row]

		last := step == len(rows)-1
		if last || column[rows[step+1]] != value {
			weight, deltaLoss := newtonStep(accumGrad, accumHess, regLambda)
			info := OneStepInfo{deltaLoss: deltaLoss, deltaWeight: weight, count: step + 1, InterFeature: value}
			if last {
				total = info
			} else {
				passInfo = append(passInfo, info)
			}
		}
	}
	return passInfo, total
}

func reversed(rows []int) []int {
	result := make([]int, len(rows))
	for p, row := range rows {
		result[len(rows)-1-p] = row
	}
	return result
}

//selectTheBestSplitCluster pairs every border of the forward pass with the same border of the
//backward pass and keeps the one with the smallest loss. Both sides must hold minLeafSize rows.
func selectTheBestSplitCluster(bestSplit *BestSplit, downPassInfo, upPassInfo []OneStepInfo, minLeafSize int) {
	firstIter := true
	bestSplit.validSplit = false

	if len(downPassInfo) != len(upPassInfo) {
		return
	}
	h := len(downPassInfo)

	for hInd := 0; hInd < h; hInd++ {
		down, up := downPassInfo[hInd], upPassInfo[h-1-hInd]
		if down.count < minLeafSize || up.count < minLeafSize {
			continue
		}
		currentLossValue := down.deltaLoss + up.deltaLoss
		if firstIter || bestSplit.bestValue > currentLossValue {
			firstIter = false
			bestSplit.bestValue = currentLossValue
			bestSplit.deltaUp = down.deltaWeight
			bestSplit.deltaDown = up.deltaWeight
			bestSplit.threshold = (down.InterFeature + up.InterFeature) / 2.0
			bestSplit.orderIndex = hInd
		}
	}

	// a split has to improve on the unsplit node by more than rounding noise
	tolerance := 1e-12 * (1 + math.Abs(bestSplit.currentValue))
	bestSplit.validSplit = !firstIter && bestSplit.bestValue < bestSplit.currentValue-tolerance
}

//scanForSplitCluster performs argsort of the selected feature column,
//iterates through splits upside down and downside up and selects the best split
//in the current column.
func scanForSplitCluster(em Matrix, q int, der1, der2 []float64, regLambda float64, minLeafSize int) (bestSplit BestSplit) {
	column := mat.Col(nil, q, em.Features)
	featuresAs := columnArgsort(column)
	h := len(column)

	bestSplit.featureIndex = q
	bestSplit.numberOfObjects = h

	downPassInfo, total := IterateSplits(featuresAs, column, der1, der2, regLambda)
	upPassInfo, _ := IterateSplits(reversed(featuresAs), column, der1, der2, regLambda)

	bestSplit.currentValue = total.deltaLoss
	bestSplit.deltaCurrent = total.deltaWeight

	selectTheBestSplitCluster(&bestSplit, downPassInfo, upPassInfo, minLeafSize)
	return
}

//TheBestSplit finds the best possible split of the given matrix or returns nil if no split
//reduces the loss. Columns are scanned concurrently by at most threadsNum goroutines.
func TheBestSplit(em Matrix, bias *mat.Dense, params BoosterParams) *BestSplit {
	h, w := em.Features.Dims()
	der1, der2 := derivatives(em, bias, params.LossKind)

	result := make([]BestSplit, w)
	if params.ThreadsNum == 1 {
		for q := 0; q < w; q++ {
			result[q] = scanForSplitCluster(em, q, der1, der2, params.RegLambda, params.MinLeafSize)
		}
	} else {
		var group errgroup.Group
		if params.ThreadsNum > 1 {
			group.SetLimit(params.ThreadsNum)
		}
		for q := 0; q < w; q++ {
			localQ := q
			group.Go(func() error {
				result[localQ] = scanForSplitCluster(em, localQ, der1, der2, params.RegLambda, params.MinLeafSize)
				return nil
			})
		}
		_ = group.Wait()
	}

	minimalLoss := 0.0
	bestIndex := 0
	firstTime := true

	for ind, currentSplit := range result {
		if currentSplit.validSplit && (firstTime || minimalLoss > currentSplit.bestValue) {
			firstTime = false
			minimalLoss = currentSplit.bestValue
			bestIndex = ind
		}
	}

	if firstTime || h < 2 {
		return nil
	}
	return &result[bestIndex]
}

//derivatives evaluates the loss derivatives for every row at the current bias.
func derivatives(em Matrix, bias *mat.Dense, lossKind SplitLoss) (der1, der2 []float64) {
	h := Height(em.Features)
	der1 = make([]float64, h)
	der2 = make([]float64, h)
	for p := 0; p < h; p++ {
		targetVal := em.Target.At(p, 0)
		biasVal := bias.At(p, 0)
		der1[p] = lossKind.lossDer1(targetVal, biasVal)
		der2[p] = lossKind.lossDer2(targetVal, biasVal)
	}
	return
}

//columnArgsort returns row indices ordered by the column value, ties broken by index.
func columnArgsort(column []float64) []int {
	indices := make([]int, len(column))
	for p := range indices {
		indices[p] = p
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return column[indices[i]] < column[indices[j]]
	})
	return indices
}
