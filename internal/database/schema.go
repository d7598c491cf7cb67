package database

var schema = []string{
	`
CREATE TABLE IF NOT EXISTS kv_entries (
    namespace VARCHAR(64) NOT NULL,
    entry_key VARCHAR(64) NOT NULL,
    value MEDIUMTEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (namespace, entry_key)
)`,
	`
CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    namespace VARCHAR(64) NOT NULL,
    plan VARCHAR(32) NOT NULL,
    card_last4 VARCHAR(4) NOT NULL,
    status VARCHAR(32) NOT NULL,
    message VARCHAR(255) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_payments_namespace (namespace)
)`,
}
