package keyspace

import "fmt"

// Partition returns the block of ks owned by participant index out of
// participants. Blocks are contiguous, disjoint, and balanced to within one
// key; the first Size()%participants indices take the extra key.
func Partition(ks Keyspace, participants, index int) (Task, error) {
	if participants <= 0 {
		return Task{}, fmt.Errorf("%w: participant count %d", ErrInvalid, participants)
	}
	if index < 0 || index >= participants {
		return Task{}, fmt.Errorf("%w: participant index %d outside [0, %d)", ErrInvalid, index, participants)
	}

	total := ks.Size()
	n := uint64(participants)
	i := uint64(index)
	base := total / n
	rem := total % n

	count := base
	if i < rem {
		count++
	}
	if count == 0 {
		return Task{Start: ks.Start}, nil
	}
	return Task{Start: ks.Start + base*i + min(i, rem), Count: count}, nil
}

// PartitionAll returns every block of ks in participant order.
func PartitionAll(ks Keyspace, participants int) ([]Task, error) {
	if participants <= 0 {
		return nil, fmt.Errorf("%w: participant count %d", ErrInvalid, participants)
	}
	tasks := make([]Task, participants)
	for i := range tasks {
		t, err := Partition(ks, participants, i)
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}
	return tasks, nil
}
