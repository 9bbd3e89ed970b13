package postgres

// schema 建立 accounts / transactions 表 (可重複執行)
// 唯一鍵命名固定，translateError 依名稱區分帳號重複與 RefID 重複
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             BIGSERIAL PRIMARY KEY,
	owner_id       BIGINT        NOT NULL,
	account_number VARCHAR(32)   NOT NULL,
	balance        NUMERIC(15,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	status         VARCHAR(16)   NOT NULL DEFAULT 'active',
	created_at     TIMESTAMPTZ   NOT NULL DEFAULT clock_timestamp(),
	updated_at     TIMESTAMPTZ   NOT NULL DEFAULT clock_timestamp(),
	CONSTRAINT accounts_account_number_key UNIQUE (account_number)
);

CREATE INDEX IF NOT EXISTS accounts_owner_id_idx ON accounts (owner_id);

CREATE TABLE IF NOT EXISTS transactions (
	id                  BIGSERIAL PRIMARY KEY,
	ref_id              UUID,
	type                VARCHAR(16)   NOT NULL,
	amount              NUMERIC(15,2) NOT NULL CHECK (amount > 0),
	source_account      VARCHAR(32),
	destination_account VARCHAR(32),
	created_at          TIMESTAMPTZ   NOT NULL DEFAULT clock_timestamp(),
	CONSTRAINT transactions_ref_id_key UNIQUE (ref_id)
);

CREATE INDEX IF NOT EXISTS transactions_source_account_idx ON transactions (source_account);
CREATE INDEX IF NOT EXISTS transactions_destination_account_idx ON transactions (destination_account);
CREATE INDEX IF NOT EXISTS transactions_created_at_idx ON transactions (created_at DESC, id DESC);
`

const (
	constraintAccountNumber = "accounts_account_number_key"
	constraintRefID         = "transactions_ref_id_key"
)
