// Package validation содержит функции валидации входных данных.
package validation

// IsValidAddress проверяет, что строка является адресом вида 0x + 40 hex-символов.
func IsValidAddress(addr string) bool {
	if len(addr) != 42 {
		return false
	}
	if addr[0] != '0' || (addr[1] != 'x' && addr[1] != 'X') {
		return false
	}

	for i := 2; i < len(addr); i++ {
		c := addr[i]
		isDigit := c >= '0' && c <= '9'
		isLower := c >= 'a' && c <= 'f'
		isUpper := c >= 'A' && c <= 'F'
		if !isDigit && !isLower && !isUpper {
			return false
		}
	}

	return true
}
