package stake

import (
	logging "github.com/ipfs/go-log/v2"

	"github.com/stakeops/stakebatch/txwire"
)

var log = logging.Logger("stake")

// FilterValid drops accounts the pipeline must never attempt: entries
// with missing or undecodable addresses, and for withdrawals accounts
// whose balance would produce a non-positive withdrawal after the rent
// reserve. Dropped accounts are logged, not silently absorbed into a
// group.
func FilterValid(accounts []StakeAccount, kind OpKind) []StakeAccount {
	valid := make([]StakeAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Address == "" {
			log.Warnw("dropping account with empty address")
			continue
		}
		if _, err := txwire.ParsePublicKey(acc.Address); err != nil {
			log.Warnw("dropping malformed account", "address", acc.Address, "err", err)
			continue
		}
		if kind == OpWithdraw && acc.Lamports <= RentExemptReserve {
			log.Warnw("skipping account with nothing to withdraw",
				"address", acc.Address, "lamports", acc.Lamports, "reserve", RentExemptReserve)
			continue
		}
		valid = append(valid, acc)
	}
	if dropped := len(accounts) - len(valid); dropped > 0 {
		log.Infof("filtered %d of %d accounts", dropped, len(accounts))
	}
	return valid
}

// Partition splits accounts into ordered groups of at most cap members.
// Every account lands in exactly one group; order is preserved.
func Partition(accounts []StakeAccount, size int) [][]StakeAccount {
	if size <= 0 || len(accounts) == 0 {
		return nil
	}
	groups := make([][]StakeAccount, 0, (len(accounts)+size-1)/size)
	for start := 0; start < len(accounts); start += size {
		end := start + size
		if end > len(accounts) {
			end = len(accounts)
		}
		groups = append(groups, accounts[start:end])
	}
	return groups
}
