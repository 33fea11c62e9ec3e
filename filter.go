package canfw

// MaxIDsPerBank is the largest group PartitionIDs hands out.
const MaxIDsPerBank = 4

// PartitionIDs splits ids into consecutive groups of perBank and calls
// configure once per group with its bank number. A short final group is
// padded with its first ID, so every group passed on has exactly
// perBank entries. When ids needs more than banks groups nothing is
// configured and fits is false.
func PartitionIDs(ids []uint32, perBank, banks int, configure func(bank int, group []uint32) error) (fits bool, err error) {
	if perBank < 1 || perBank > MaxIDsPerBank {
		return false, ErrFilterRejected
	}
	if len(ids) > perBank*banks {
		return false, nil
	}
	var scratch [MaxIDsPerBank]uint32
	for bank := 0; bank*perBank < len(ids); bank++ {
		group := ids[bank*perBank : min((bank+1)*perBank, len(ids))]
		n := copy(scratch[:perBank], group)
		for i := n; i < perBank; i++ {
			scratch[i] = group[0]
		}
		if err := configure(bank, scratch[:perBank]); err != nil {
			return true, err
		}
	}
	return true, nil
}
