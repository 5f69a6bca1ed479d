package utils

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel splits totalSize work items into contiguous groups and runs each group on
// its own goroutine. Groups never overlap, so members may write into disjoint slots of a shared
// slice without locking. The returned error is the context error if ctx was cancelled, or an
// error describing a panic raised by a member.
func GroupWorkParallel(ctx context.Context, totalSize int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return ctx.Err()
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	g, gctx := errgroup.WithContext(ctx)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		g.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = errors.Errorf("got panic running group %d in parallel: %v", groupNum, thePanic)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			thisGroupSize := groupSize
			if groupNum == numGroups-1 {
				thisGroupSize += extra
			}
			from := groupSize * groupNum
			to := from + thisGroupSize
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					memberWork(memberNum, workNum)
					memberNum++
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
			return nil
		})
	}
	return g.Wait()
}

// ParallelForEach calls fn for every index in [0, size). Work is only fanned out when size is
// at least minParallel; smaller inputs run on the calling goroutine.
func ParallelForEach(ctx context.Context, size, minParallel int, fn func(i int)) error {
	if size < minParallel || ParallelFactor == 1 {
		for i := 0; i < size; i++ {
			fn(i)
		}
		return ctx.Err()
	}
	return GroupWorkParallel(ctx, size, func(_, _, _, _ int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(_, workNum int) { fn(workNum) }, nil
	})
}
