package txwire

// Well-known program and sysvar addresses.
var (
	StakeProgramID     = MustParsePublicKey("Stake11111111111111111111111111111111111111")
	SysvarClock        = MustParsePublicKey("SysvarC1ock11111111111111111111111111111111")
	SysvarStakeHistory = MustParsePublicKey("SysvarStakeHistory1111111111111111111111111")
)

// AuthorityRole selects which of a stake account's two permissions an
// authorize instruction transfers.
type AuthorityRole uint32

const (
	RoleStaker     AuthorityRole = 0
	RoleWithdrawer AuthorityRole = 1
)

func (r AuthorityRole) String() string {
	switch r {
	case RoleStaker:
		return "staker"
	case RoleWithdrawer:
		return "withdrawer"
	default:
		return "unknown"
	}
}

// Stake program instruction tags (bincode enum discriminants).
const (
	stakeInstrAuthorize uint32 = 1
	stakeInstrWithdraw  uint32 = 4
)

// NewAuthorizeInstruction transfers one authority role on a stake account
// from its current holder to a new address. The current holder must sign.
func NewAuthorizeInstruction(stakeAccount, currentAuthority, newAuthority PublicKey, role AuthorityRole) Instruction {
	data := appendU32(nil, stakeInstrAuthorize)
	data = append(data, newAuthority[:]...)
	data = appendU32(data, uint32(role))
	return Instruction{
		ProgramID: StakeProgramID,
		Accounts: []AccountMeta{
			{Key: stakeAccount, Writable: true},
			{Key: SysvarClock},
			{Key: currentAuthority, Signer: true},
		},
		Data: data,
	}
}

// NewWithdrawInstruction moves lamports out of a stake account to the
// recipient. The withdraw authority must sign.
func NewWithdrawInstruction(stakeAccount, withdrawAuthority, recipient PublicKey, lamports uint64) Instruction {
	data := appendU32(nil, stakeInstrWithdraw)
	data = appendU64(data, lamports)
	return Instruction{
		ProgramID: StakeProgramID,
		Accounts: []AccountMeta{
			{Key: stakeAccount, Writable: true},
			{Key: recipient, Writable: true},
			{Key: SysvarClock},
			{Key: SysvarStakeHistory},
			{Key: withdrawAuthority, Signer: true},
		},
		Data: data,
	}
}
