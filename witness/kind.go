package witness

// Kind discriminates witness rows. The numbering matches the trailing
// row-type byte emitted by the witness generator.
type Kind uint8

const (
	KindInitBranch  Kind = 0
	KindBranchChild Kind = 1

	KindStorageLeafKeyS Kind = 2
	KindStorageLeafKeyC Kind = 3

	KindAccountLeafKeyC Kind = 4

	// KindHashOnly rows exist solely to be hashed into the relation
	// table; they are excluded from the assertion trace.
	KindHashOnly Kind = 5

	KindAccountLeafKeyS         Kind = 6
	KindAccountNonceBalanceS    Kind = 7
	KindAccountNonceBalanceC    Kind = 8
	KindAccountStorageCodehashS Kind = 9
	KindAccountDrifted          Kind = 10
	KindAccountStorageCodehashC Kind = 11

	KindStorageLeafValueS Kind = 13
	KindStorageLeafValueC Kind = 14
	KindStorageDrifted    Kind = 15

	KindExtensionS Kind = 16
	KindExtensionC Kind = 17

	KindAccountNonExisting Kind = 18
)

func (k Kind) String() string {
	switch k {
	case KindInitBranch:
		return "init_branch"
	case KindBranchChild:
		return "branch_child"
	case KindStorageLeafKeyS:
		return "storage_leaf_key_s"
	case KindStorageLeafKeyC:
		return "storage_leaf_key_c"
	case KindAccountLeafKeyC:
		return "account_leaf_key_c"
	case KindHashOnly:
		return "hash_only"
	case KindAccountLeafKeyS:
		return "account_leaf_key_s"
	case KindAccountNonceBalanceS:
		return "account_nonce_balance_s"
	case KindAccountNonceBalanceC:
		return "account_nonce_balance_c"
	case KindAccountStorageCodehashS:
		return "account_storage_codehash_s"
	case KindAccountDrifted:
		return "account_drifted"
	case KindAccountStorageCodehashC:
		return "account_storage_codehash_c"
	case KindStorageLeafValueS:
		return "storage_leaf_value_s"
	case KindStorageLeafValueC:
		return "storage_leaf_value_c"
	case KindStorageDrifted:
		return "storage_drifted"
	case KindExtensionS:
		return "extension_s"
	case KindExtensionC:
		return "extension_c"
	case KindAccountNonExisting:
		return "account_non_existing"
	}
	return "unknown"
}

// IsAccountLeaf reports whether the kind is one of the account leaf rows.
func (k Kind) IsAccountLeaf() bool {
	switch k {
	case KindAccountLeafKeyS, KindAccountLeafKeyC, KindAccountNonExisting,
		KindAccountNonceBalanceS, KindAccountNonceBalanceC,
		KindAccountStorageCodehashS, KindAccountStorageCodehashC,
		KindAccountDrifted:
		return true
	}
	return false
}

// IsStorageLeaf reports whether the kind is one of the storage leaf rows.
func (k Kind) IsStorageLeaf() bool {
	switch k {
	case KindStorageLeafKeyS, KindStorageLeafKeyC,
		KindStorageLeafValueS, KindStorageLeafValueC, KindStorageDrifted:
		return true
	}
	return false
}
