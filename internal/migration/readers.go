// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"strings"

	"github.com/google/uuid"

	"github.com/holomush/gatekeeper/internal/hashing"
)

// convertFunc normalizes one source row. It fills Record.Name before
// failing so reports can name the row.
type convertFunc func(r row) (Record, error)

// withIDs fills ID and PremiumID from the named columns.
func withIDs(rec *Record, r row, idCol, premiumCol string) error {
	if idCol != "" {
		id, err := r.uuid(idCol)
		if err != nil {
			return err
		}
		if id != nil {
			rec.ID = *id
		}
	}
	if premiumCol != "" {
		pid, err := r.uuid(premiumCol)
		if err != nil {
			return err
		}
		rec.PremiumID = pid
		rec.Premium = pid != nil
	}
	return nil
}

// AuthMe: one row per account, lower-cased username plus realname, epoch
// millisecond dates.
func convertAuthMe(r row) (Record, error) {
	rec := Record{
		Name:      r.firstStr("realname", "username"),
		IP:        r.firstStr("ip", "last_ip"),
		JoinDate:  r.time("regdate"),
		LastSeen:  r.time("lastlogin"),
		Secret2FA: r.str("totp"),
	}
	pw, err := parseAuthMe(r.str("password"))
	rec.Password = pw
	return rec, err
}

// JPremium: user_profiles keyed by uniqueId, with premiumId for verified
// accounts.
func convertJPremium(r row) (Record, error) {
	rec := Record{
		Name:     r.str("lastnickname"),
		IP:       r.firstStr("lastaddress", "firstaddress"),
		JoinDate: r.time("firstseen"),
		LastSeen: r.time("lastseen"),
	}
	if err := withIDs(&rec, r, "uniqueid", "premiumid"); err != nil {
		return rec, err
	}
	pw, err := parseJPremium(r.str("hashedpassword"))
	rec.Password = pw
	return rec, err
}

// Aegis stores BCrypt hashes only.
func convertAegis(r row) (Record, error) {
	rec := Record{
		Name:     r.str("username"),
		IP:       r.str("ip"),
		JoinDate: r.time("registered"),
		LastSeen: r.time("last_login"),
	}
	if err := withIDs(&rec, r, "uuid", ""); err != nil {
		return rec, err
	}
	pw, err := parseBCryptOnly(r.str("password"))
	rec.Password = pw
	return rec, err
}

// DynamicBungeeAuth keeps SHA-512 digest and salt in separate columns and a
// premium flag; a premium account's uuid is its premium id.
func convertDBA(r row) (Record, error) {
	rec := Record{
		Name:     r.str("playername"),
		IP:       r.str("lastip"),
		JoinDate: r.time("firstjoin"),
		LastSeen: r.time("lastjoin"),
	}
	if err := withIDs(&rec, r, "uuid", ""); err != nil {
		return rec, err
	}
	if r.bool("premium") && rec.ID != uuid.Nil {
		pid := rec.ID
		rec.PremiumID = &pid
		rec.Premium = true
	}
	pw, err := parseSaltedColumns(hashing.SHA512, r.str("password"), r.str("salt"))
	rec.Password = pw
	return rec, err
}

// nLogin: unique_id plus an optional mojang_id.
func convertNLogin(r row) (Record, error) {
	rec := Record{
		Name:     r.firstStr("last_name", "realname"),
		IP:       r.str("last_ip"),
		JoinDate: r.time("creation_date"),
		LastSeen: r.time("last_seen"),
	}
	if err := withIDs(&rec, r, "unique_id", "mojang_id"); err != nil {
		return rec, err
	}
	pw, err := parseNLogin(r.str("password"))
	rec.Password = pw
	return rec, err
}

// LoginSecurity: ls_players with BCrypt hashes.
func convertLoginSecurity(r row) (Record, error) {
	rec := Record{
		Name:     r.str("last_name"),
		IP:       r.str("ip_address"),
		JoinDate: r.time("registration_date"),
		LastSeen: r.time("last_login"),
	}
	if err := withIDs(&rec, r, "unique_user_id", ""); err != nil {
		return rec, err
	}
	pw, err := parseBCryptOnly(r.str("password"))
	rec.Password = pw
	return rec, err
}

// FastLogin only knows which names are premium. Its rows enrich accounts an
// AuthMe import already created.
func convertFastLogin(r row) (Record, error) {
	rec := Record{
		Name:     r.str("name"),
		IP:       r.str("lastip"),
		LastSeen: r.time("lastlogin"),
	}
	if !r.bool("premium") {
		return rec, nil
	}
	pid, err := r.uuid("uuid")
	if err != nil {
		return rec, err
	}
	rec.PremiumID = pid
	rec.Premium = pid != nil
	return rec, nil
}

// LimboAuth: AUTH table with AuthMe-compatible hashes and TOTP tokens.
func convertLimboAuth(r row) (Record, error) {
	rec := Record{
		Name:         r.firstStr("nickname", "lowercasenickname"),
		IP:           r.firstStr("loginip", "ip"),
		JoinDate:     r.time("regdate"),
		LastSeen:     r.time("logindate"),
		LastAuthDate: r.time("logindate"),
		Secret2FA:    strings.ToUpper(r.str("totptoken")),
	}
	if err := withIDs(&rec, r, "uuid", "premiumuuid"); err != nil {
		return rec, err
	}
	pw, err := parseAuthMe(r.str("hash"))
	rec.Password = pw
	return rec, err
}

// Authy keeps a SHA-256 digest and salt in separate columns.
func convertAuthy(r row) (Record, error) {
	rec := Record{
		Name: r.str("name"),
		IP:   r.str("ip"),
	}
	if err := withIDs(&rec, r, "uuid", ""); err != nil {
		return rec, err
	}
	pw, err := parseSaltedColumns(hashing.SHA256, r.str("password"), r.str("salt"))
	rec.Password = pw
	return rec, err
}

// LogIt records the algorithm per row; only its SHA-256 rows are portable.
func convertLogIt(r row) (Record, error) {
	rec := Record{
		Name:     r.str("username"),
		IP:       r.str("ip"),
		LastSeen: r.time("last_active_date"),
	}
	if err := withIDs(&rec, r, "uuid", ""); err != nil {
		return rec, err
	}
	if r.str("password") == "" {
		return rec, nil
	}
	switch strings.ToLower(r.str("hashing_algorithm")) {
	case "sha-256", "sha256":
	default:
		return rec, skip(ReasonUnsupportedHash, "LogIt algorithm %q", r.str("hashing_algorithm"))
	}
	pw, err := parseSaltedColumns(hashing.SHA256, r.str("password"), r.str("salt"))
	rec.Password = pw
	return rec, err
}

// Gatekeeper's own schema as written by another instance or an older
// database backend. Algorithms are carried through unchanged.
func convertNative(r row) (Record, error) {
	rec := Record{
		Name:         r.str("last_nickname"),
		IP:           r.str("ip"),
		JoinDate:     r.firstTime("joined", "join_date"),
		LastSeen:     r.time("last_seen"),
		LastAuthDate: r.time("last_authentication"),
		Secret2FA:    r.firstStr("secret", "secret2fa"),
	}
	idCol, premiumCol := "uuid", "premium_uuid"
	if _, ok := r["uuid"]; !ok {
		idCol, premiumCol = "id", "premium_id"
	}
	if err := withIDs(&rec, r, idCol, premiumCol); err != nil {
		return rec, err
	}
	if hash := r.str("hashed_password"); hash != "" {
		algo := r.str("algo")
		if algo == "" {
			return rec, skip(ReasonUnsupportedHash, "missing algorithm")
		}
		rec.Password = &hashing.HashedPassword{Hash: hash, Salt: r.str("salt"), Algorithm: algo}
	}
	return rec, nil
}
